package node

import "dynamocore/internal/transport"

// init teaches the wire codec how to decode every message type a node may
// receive from a peer over HTTPTransport, since internal/transport cannot
// import this package directly (the dependency runs the other way).
func init() {
	transport.RegisterMessageType("ClientGetRequest", ClientGetRequest{})
	transport.RegisterMessageType("ClientPutRequest", ClientPutRequest{})
	transport.RegisterMessageType("RedirectedClientRequest", RedirectedClientRequest{})
	transport.RegisterMessageType("RedirectAcknowledgement", RedirectAcknowledgement{})
	transport.RegisterMessageType("CoordinatorGetRequest", CoordinatorGetRequest{})
	transport.RegisterMessageType("CoordinatorGetResponse", CoordinatorGetResponse{})
	transport.RegisterMessageType("CoordinatorPutRequest", CoordinatorPutRequest{})
	transport.RegisterMessageType("CoordinatorPutResponse", CoordinatorPutResponse{})
	transport.RegisterMessageType("HandoffRequest", HandoffRequest{})
	transport.RegisterMessageType("HandoffResponse", HandoffResponse{})
	transport.RegisterMessageType("AliveCheckRequest", AliveCheckRequest{})
	transport.RegisterMessageType("AliveCheckResponse", AliveCheckResponse{})
	transport.RegisterMessageType("CrashMessage", CrashMessage{})
	transport.RegisterMessageType("RecoverMessage", RecoverMessage{})
	transport.RegisterMessageType("GetStateRequest", GetStateRequest{})
	transport.RegisterMessageType("GetStateResponse", GetStateResponse{})
	transport.RegisterMessageType("MerkleSyncRequest", MerkleSyncRequest{})
	transport.RegisterMessageType("MerkleSyncResponse", MerkleSyncResponse{})
	transport.RegisterMessageType("MerkleSyncFulfill", MerkleSyncFulfill{})
}
