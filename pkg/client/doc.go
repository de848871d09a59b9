// Package client is a Go client for the channelbroker gateway.
//
// Login obtains a token; Publish streams a reader to a topic; Subscribe joins a topic
// over WebSocket; Stream follows a topic as Server-Sent Events. Admin calls need a
// token issued to the "admin" client.
//
//	c, _ := client.NewClient(client.Config{ServerURL: "http://localhost:8081", ClientID: "me"})
//	if _, err := c.Login(ctx); err != nil {
//		return err
//	}
//	sub, _ := c.Subscribe(ctx, "/rooms/1")
//	defer sub.Close()
//	c.PublishText(ctx, "/rooms/1", "hello")
//	frame, _ := sub.Recv()
package client
