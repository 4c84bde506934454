package service

import "mw-bridge/pb"

// ServiceName is the name the counterpart registers under in service
// discovery and the gRPC service path prefix.
const ServiceName = "mwbridge.ClientCommands"

var (
	Ping = Method[*pb.PingRequest, *pb.PingResponse]{
		Name:     "ping",
		Request:  proto[pb.PingRequest](),
		Response: proto[pb.PingResponse](),
	}
	WalletCreate = Method[*pb.WalletCreateRequest, *pb.WalletCreateResponse]{
		Name:     "walletCreate",
		Request:  proto[pb.WalletCreateRequest](),
		Response: proto[pb.WalletCreateResponse](),
	}
	WalletRecover = Method[*pb.WalletRecoverRequest, *pb.WalletRecoverResponse]{
		Name:     "walletRecover",
		Request:  proto[pb.WalletRecoverRequest](),
		Response: proto[pb.WalletRecoverResponse](),
	}
	AccountCreate = Method[*pb.AccountCreateRequest, *pb.AccountCreateResponse]{
		Name:     "accountCreate",
		Request:  proto[pb.AccountCreateRequest](),
		Response: proto[pb.AccountCreateResponse](),
	}
	AccountRecover = Method[*pb.AccountRecoverRequest, *pb.AccountRecoverResponse]{
		Name:     "accountRecover",
		Request:  proto[pb.AccountRecoverRequest](),
		Response: proto[pb.AccountRecoverResponse](),
	}
	AccountSelect = Method[*pb.AccountSelectRequest, *pb.AccountSelectResponse]{
		Name:     "accountSelect",
		Request:  proto[pb.AccountSelectRequest](),
		Response: proto[pb.AccountSelectResponse](),
	}
	ImageGetBlob = Method[*pb.ImageGetBlobRequest, *pb.ImageGetBlobResponse]{
		Name:     "imageGetBlob",
		Request:  proto[pb.ImageGetBlobRequest](),
		Response: proto[pb.ImageGetBlobResponse](),
	}
	GetVersion = Method[*pb.GetVersionRequest, *pb.GetVersionResponse]{
		Name:     "getVersion",
		Request:  proto[pb.GetVersionRequest](),
		Response: proto[pb.GetVersionResponse](),
	}
	Log = Method[*pb.LogRequest, *pb.LogResponse]{
		Name:     "log",
		Request:  proto[pb.LogRequest](),
		Response: proto[pb.LogResponse](),
	}
)

// Methods lists every command in declaration order.
func Methods() []Descriptor {
	return []Descriptor{
		Ping.Descriptor(),
		WalletCreate.Descriptor(),
		WalletRecover.Descriptor(),
		AccountCreate.Descriptor(),
		AccountRecover.Descriptor(),
		AccountSelect.Descriptor(),
		ImageGetBlob.Descriptor(),
		GetVersion.Descriptor(),
		Log.Descriptor(),
	}
}

// Lookup finds a command by logical or wire name.
func Lookup(name string) (Descriptor, bool) {
	for _, d := range Methods() {
		if d.Name == name || d.WireName == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
