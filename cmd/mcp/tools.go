package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/volume"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// maxReadSize caps how many bytes one read_file call returns.
const maxReadSize = 64 * 1024

type volumeTools struct {
	vol *volume.Volume
}

func addTools(s *server.MCPServer, t *volumeTools) {
	s.AddTool(mcp.NewTool("volume_info",
		mcp.WithDescription("Show volume identity, free space and cache statistics"),
	), t.handleVolumeInfo)

	s.AddTool(mcp.NewTool("create_file",
		mcp.WithDescription("Create a zero-filled file of fixed length and return its inode number"),
		mcp.WithNumber("length",
			mcp.Required(),
			mcp.Description("File length in bytes"),
		),
	), t.handleCreateFile)

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Overwrite bytes inside an existing file"),
		mcp.WithNumber("inode", mcp.Required(), mcp.Description("Inode number")),
		mcp.WithNumber("offset", mcp.Description("Byte offset, default 0")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text to write")),
	), t.handleWriteFile)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read bytes from a file"),
		mcp.WithNumber("inode", mcp.Required(), mcp.Description("Inode number")),
		mcp.WithNumber("offset", mcp.Description("Byte offset, default 0")),
		mcp.WithNumber("size", mcp.Description("Bytes to read, default the rest of the file")),
	), t.handleReadFile)

	s.AddTool(mcp.NewTool("stat_file",
		mcp.WithDescription("Show a file's length and state"),
		mcp.WithNumber("inode", mcp.Required(), mcp.Description("Inode number")),
	), t.handleStatFile)

	s.AddTool(mcp.NewTool("remove_file",
		mcp.WithDescription("Remove a file and release its sectors"),
		mcp.WithNumber("inode", mcp.Required(), mcp.Description("Inode number")),
	), t.handleRemoveFile)

	s.AddTool(mcp.NewTool("sync",
		mcp.WithDescription("Write every dirty cached sector to the device"),
	), t.handleSync)
}

func requireInode(request mcp.CallToolRequest) (block_device.Sector, error) {
	n, err := request.RequireInt("inode")
	if err != nil {
		return 0, err
	}
	if n < 0 || int64(n) >= int64(block_device.NoSector) {
		return 0, fmt.Errorf("inode %d out of range", n)
	}
	return block_device.Sector(n), nil
}

func (t *volumeTools) handleVolumeInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := t.vol.Info()
	result := fmt.Sprintf("Volume %s (format v%d, formatted %s)\n", info.ID, info.Version, info.FormattedAt.UTC().Format("2006-01-02 15:04:05"))
	result += fmt.Sprintf("Sectors: %d total, %d free\n", info.Sectors, info.FreeSectors)
	result += fmt.Sprintf("Open inodes: %d\n", info.OpenInodes)
	result += fmt.Sprintf("Cache: %d/%d resident, %d dirty, %d hits, %d misses, %d evictions, %d write-backs\n",
		info.Cache.Resident, info.Cache.Capacity, info.Cache.Dirty,
		info.Cache.Hits, info.Cache.Misses, info.Cache.Evictions, info.Cache.WriteBacks)
	return mcp.NewToolResultText(result), nil
}

func (t *volumeTools) handleCreateFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	length, err := request.RequireInt("length")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sector, err := t.vol.CreateFile(int64(length))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create file: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created file with inode %d, length %d", sector, length)), nil
}

func (t *volumeTools) handleWriteFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sector, err := requireInode(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset := int64(request.GetInt("offset", 0))

	in, err := t.vol.Open(sector)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open inode %d: %v", sector, err)), nil
	}
	defer in.Close()

	if offset < 0 || offset+int64(len(content)) > in.Length() {
		return mcp.NewToolResultError(fmt.Sprintf("Write of %d bytes at %d does not fit in file of length %d", len(content), offset, in.Length())), nil
	}

	n, err := in.WriteAt([]byte(content), offset)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to write: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes at offset %d", n, offset)), nil
}

func (t *volumeTools) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sector, err := requireInode(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset := int64(request.GetInt("offset", 0))

	in, err := t.vol.Open(sector)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open inode %d: %v", sector, err)), nil
	}
	defer in.Close()

	size := int64(request.GetInt("size", int(in.Length()-offset)))
	if size < 0 || offset < 0 {
		return mcp.NewToolResultError("offset and size must not be negative"), nil
	}
	size = min(size, maxReadSize)

	buf := make([]byte, size)
	n, err := in.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read: %v", err)), nil
	}
	return mcp.NewToolResultText(string(buf[:n])), nil
}

func (t *volumeTools) handleStatFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sector, err := requireInode(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	in, err := t.vol.Open(sector)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open inode %d: %v", sector, err)), nil
	}
	defer in.Close()

	return mcp.NewToolResultText(fmt.Sprintf("Inode %d: length %d bytes, removed %t", in.Sector(), in.Length(), in.IsRemoved())), nil
}

func (t *volumeTools) handleRemoveFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sector, err := requireInode(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.vol.RemoveFile(sector); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to remove inode %d: %v", sector, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed inode %d", sector)), nil
}

func (t *volumeTools) handleSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.vol.Sync(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sync failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Synced"), nil
}
