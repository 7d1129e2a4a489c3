package server

// Server is a long-running network front end for a storage component.
type Server interface {
	Start() error
	Stop() error
	Address() string
}
