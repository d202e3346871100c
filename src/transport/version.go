package transport

// Version is reported to MCP clients in the server implementation info.
// Release builds set it with:
//
//	-ldflags "-X github.com/Easy-Infra-Ltd/easy-predictionguard/src/transport.Version=<tag>"
var Version = "dev"
