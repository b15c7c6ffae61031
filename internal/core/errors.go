package core

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomClosed         = errors.New("room closed")
	ErrDuplicatePeer      = errors.New("peer already in room")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrTransportNotFound  = errors.New("transport not found")
	ErrProducerNotFound   = errors.New("producer not found")
	ErrCannotConsume      = errors.New("cannot consume")
	ErrTransportConnected = errors.New("transport already connected")
	ErrTransportClosed    = errors.New("transport closed")
)
