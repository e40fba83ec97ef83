package wire

import (
	"fmt"

	"lukechampine.com/blake3"

	"generals-net/internal/netcmd"
)

// Digest is the content hash carried by file announcements.
func Digest(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// NewFileAnnounce announces data under a portable filename to the slots in
// playerMask.
func NewFileAnnounce(portable string, fileID uint16, playerMask uint8, data []byte) *netcmd.FileAnnounce {
	return &netcmd.FileAnnounce{
		PortableFilename: portable,
		FileID:           fileID,
		PlayerMask:       playerMask,
		Digest:           Digest(data),
	}
}

// NewFile builds the command that carries data. Files are usually larger
// than a packet; send the result through Fragment.
func NewFile(portable string, data []byte) *netcmd.File {
	return &netcmd.File{PortableFilename: portable, Data: data}
}

// VerifyFile checks a received file against its announcement.
func VerifyFile(a *netcmd.FileAnnounce, f *netcmd.File) error {
	if a.PortableFilename != f.PortableFilename {
		return fmt.Errorf("%w: announced %q, received %q", ErrDigestMismatch, a.PortableFilename, f.PortableFilename)
	}
	if Digest(f.Data) != a.Digest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, f.PortableFilename)
	}
	return nil
}
