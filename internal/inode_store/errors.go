package inode_store

import "errors"

var (
	ErrInvalidLength      = errors.New("inode length out of range")
	ErrInvalidOffset      = errors.New("negative file offset")
	ErrCorruptInode       = errors.New("sector does not hold an inode")
	ErrWriteDenied        = errors.New("writes to inode are denied")
	ErrInodeClosed        = errors.New("inode is not open")
	ErrDenyWriteImbalance = errors.New("deny-write count does not match open count")
)
