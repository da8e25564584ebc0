// Package packet implements UniRPC packet framing.
//
// A packet is a 24-byte big-endian header followed by an argument
// descriptor table (4-byte length, 4-byte type per argument) and the
// argument payloads, each padded with zeros to a 4-byte boundary.
//
//	p := packet.New()
//	p.WriteInt(0, funcCode)
//	p.WriteBytes(1, []byte("VOC"))
//	p.WriteTo(conn)
//
//	resp, err := packet.ReadPacket(conn)
//	rc, err := resp.ReadInt(0)
//
// Arguments must be written in index order starting at zero; any other
// index fails with OrderError before anything is sent. Errors report
// through ShouldCloseConnection whether the stream is still usable.
package packet
