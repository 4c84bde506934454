// Package service describes the commands exposed by the middleware.
//
// A Method pairs a logical command name with the codecs for its request and
// response. The table in commands.go is the single source of those
// descriptors for both the client and the server side.
package service

import (
	"unicode"
	"unicode/utf8"

	"mw-bridge/codec"
)

// Method describes one command. Descriptors are immutable once declared.
type Method[Req, Resp any] struct {
	Name     string
	Request  codec.Typed[Req]
	Response codec.Typed[Resp]
}

// WireName is the name the transport sees for this method.
func (m Method[Req, Resp]) WireName() string {
	return WireName(m.Name)
}

// WireName upper-cases the first character of a logical method name:
// "ping" becomes "Ping", "walletCreate" becomes "WalletCreate".
func WireName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 || r == utf8.RuneError || unicode.IsUpper(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// Descriptor is the type-erased view of a Method used for listings.
type Descriptor struct {
	Name     string
	WireName string
}

func (m Method[Req, Resp]) Descriptor() Descriptor {
	return Descriptor{Name: m.Name, WireName: m.WireName()}
}

func proto[T any, PT codec.Message[T]]() codec.Typed[PT] {
	return codec.Proto[T, PT]{}
}

// ListenEventsMethod is the server-streaming gRPC method that carries
// events.
const ListenEventsMethod = "ListenEvents"

// GRPCMethodPath is the full gRPC method path for a wire method name.
func GRPCMethodPath(wireName string) string {
	return "/" + ServiceName + "/" + wireName
}
