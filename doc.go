// Package unirpc is a client for the UniRPC protocol spoken by UniVerse
// and UniData servers.
//
// A Session is one logged-in connection. Client hands out sessions,
// pooled per (host, user, account, password) when Config.Pooling is set:
//
//	client, err := unirpc.NewClient(unirpc.Config{
//		Host:     "db.example.com",
//		Account:  "XDEMO",
//		User:     "user",
//		Password: "secret",
//		Pooling:  true,
//	})
//	defer client.Close()
//
//	s, err := client.Session(ctx)
//	defer s.Close() // back to the pool
//
//	resp, err := s.Execute(ctx, packet.Int(code), packet.Bytes(name))
//
// Application data travels as mark-delimited dynamic arrays; see the
// mvarray package.
package unirpc
