package protocol

import "errors"

var (
	ErrInvalidRole         = errors.New("protocol: invalid role")
	ErrInvalidTransmission = errors.New("protocol: invalid transmission")
)
