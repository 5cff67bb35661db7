// Package chatserver implements the chat service that clustertest boots and
// exercises by default.
//
// Every instance keeps its rooms and messages in memory and exposes them as
// MCP tools over streamable HTTP. Local writes are forwarded to the peer
// instances through their replicate tool, optionally after a delay, so a
// cluster of instances converges eventually rather than immediately:
//
//	srv := chatserver.New(chatserver.Config{
//		Index: 0,
//		Host:  "127.0.0.1",
//		Port:  18000,
//		Peers: []string{"127.0.0.1:18001"},
//	})
//	err := srv.Serve(ctx)
package chatserver
