package wire

import (
	"bytes"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"generals-net/internal/netcmd"
	"generals-net/internal/sim"
)

func header(id uint16, player uint8, frame uint32) netcmd.Header {
	return netcmd.Header{ID: id, PlayerID: player, ExecutionFrame: frame}
}

func bigGameCommand(id uint16, args int) *netcmd.GameCommand {
	g := &netcmd.GameCommand{Header: header(id, 2, 40), MessageType: netcmd.MsgCreateSelectedGroup}
	g.AddArgument(netcmd.BoolArg(true))
	for i := 0; i < args; i++ {
		g.AddArgument(netcmd.ObjectIDArg(sim.ObjectID(1000 + i)))
	}
	return g
}

// TestPacketRoundTrip tests every command variant through a packet
func TestPacketRoundTrip(t *testing.T) {
	msgs := []netcmd.Msg{
		&netcmd.GameCommand{
			Header:      header(10, 1, 100),
			MessageType: netcmd.MsgDoMoveTo,
			Args: []netcmd.Argument{
				netcmd.IntegerArg(-7),
				netcmd.RealArg(1.5),
				netcmd.BoolArg(true),
				netcmd.ObjectIDArg(99),
				netcmd.DrawableIDArg(12),
				netcmd.TeamIDArg(3),
				netcmd.LocationArg(sim.Coord3D{X: 1, Y: 2, Z: 3}),
				netcmd.PixelArg(sim.ICoord2D{X: -4, Y: 5}),
				netcmd.PixelRegionArg(sim.IRegion2D{Lo: sim.ICoord2D{X: 1, Y: 2}, Hi: sim.ICoord2D{X: 30, Y: 40}}),
				netcmd.TimestampArg(123456),
				netcmd.WideCharArg('Ж'),
			},
		},
		&netcmd.AckBoth{Ack: netcmd.Ack{Header: header(0, 1, 100), CommandID: 4, OriginalPlayerID: 2}},
		&netcmd.AckStage1{Ack: netcmd.Ack{Header: header(0, 1, 100), CommandID: 5, OriginalPlayerID: 2}},
		&netcmd.AckStage2{Ack: netcmd.Ack{Header: header(0, 1, 100), CommandID: 6, OriginalPlayerID: 3}},
		&netcmd.FrameInfo{Header: header(12, 1, 100), CommandCount: 2},
		&netcmd.PlayerLeave{Header: header(13, 1, 100), LeavingPlayerID: 1},
		&netcmd.RunAheadMetrics{Header: header(14, 1, 100), AverageLatency: 0.125, AverageFps: 29},
		&netcmd.RunAhead{Header: header(15, 1, 101), RunAhead: 24, FrameRate: 30},
		&netcmd.DestroyPlayer{Header: header(16, 1, 101), PlayerIndex: 5},
		&netcmd.KeepAlive{Header: header(0, 1, 101)},
		&netcmd.DisconnectKeepAlive{Header: header(0, 1, 101)},
		&netcmd.PacketRouterQuery{Header: header(0, 1, 101)},
		&netcmd.PacketRouterAck{Header: header(0, 1, 101)},
		&netcmd.DisconnectChat{Header: header(0, 1, 101), Text: "brb"},
		&netcmd.Chat{Header: header(20, 1, 101), Text: "gg wp ✓", PlayerMask: 0x0f},
		&netcmd.Progress{Header: header(0, 1, 101), Percentage: 75},
		&netcmd.LoadComplete{Header: header(21, 1, 101)},
		&netcmd.TimeOutStart{Header: header(22, 1, 101)},
		&netcmd.Wrapper{Header: header(23, 1, 101), WrappedCommandID: 8, ChunkNumber: 1, NumChunks: 3, TotalDataLength: 30, DataOffset: 10, Data: []byte("0123456789")},
		&netcmd.File{Header: header(24, 1, 101), PortableFilename: "maps\\alpine\\alpine.map", Data: []byte("map bytes")},
		NewFileAnnounce("maps\\alpine\\alpine.map", 7, 0x06, []byte("map bytes")),
		&netcmd.FileProgress{Header: header(26, 1, 101), FileID: 7, Progress: 50},
		&netcmd.FrameResendRequest{Header: header(27, 1, 101), FrameToResend: 90},
		&netcmd.DisconnectPlayer{Header: header(28, 3, 101), DisconnectSlot: 2, DisconnectFrame: 88},
		&netcmd.DisconnectVote{Header: header(29, 3, 101), Slot: 2, VoteFrame: 88},
		&netcmd.DisconnectFrame{Header: header(30, 3, 101), DisconnectFrame: 89},
		&netcmd.DisconnectScreenOff{Header: header(31, 3, 101), NewFrame: 92},
	}
	announce := msgs[20].(*netcmd.FileAnnounce)
	*announce.Base() = header(25, 1, 101)

	p := NewPacket(64 * 1024)
	for _, m := range msgs {
		ok, err := p.Add(m, 0x02)
		if err != nil || !ok {
			t.Fatalf("Expected %s to fit, got ok=%v err=%v", m.Type(), ok, err)
		}
	}

	decoded, err := DecodePacket(p.Bytes())
	if err != nil {
		t.Fatalf("Expected clean decode, got %v", err)
	}
	if len(decoded) != len(msgs) {
		t.Fatalf("Expected %d commands, got %d", len(msgs), len(decoded))
	}
	for i, d := range decoded {
		if d.Relay != 0x02 {
			t.Errorf("Expected relay 0x02 on %s, got 0x%02x", d.Msg.Type(), d.Relay)
		}
		if !reflect.DeepEqual(d.Msg, msgs[i]) {
			t.Errorf("Command %d (%s) mismatch:\n got  %+v\n want %+v", i, msgs[i].Type(), d.Msg, msgs[i])
		}
	}
}

// TestPacketOmitsRepeatedFields tests header compression between commands
func TestPacketOmitsRepeatedFields(t *testing.T) {
	first := &netcmd.FrameInfo{Header: header(40, 2, 500), CommandCount: 1}
	second := &netcmd.FrameInfo{Header: header(41, 2, 500), CommandCount: 3}

	single, err := EncodeCommand(first, 0)
	if err != nil {
		t.Fatalf("Expected encode to succeed, got %v", err)
	}

	p := NewPacket(476)
	p.Add(first, 0)
	p.Add(second, 0)

	// The second command only needs 'D' and its two data bytes.
	if expected := len(single) + 3; p.Len() != expected {
		t.Errorf("Expected packet length %d, got %d", expected, p.Len())
	}

	decoded, err := DecodePacket(p.Bytes())
	if err != nil {
		t.Fatalf("Expected clean decode, got %v", err)
	}
	got := decoded[1].Msg.Base()
	if got.ID != 41 || got.PlayerID != 2 || got.ExecutionFrame != 500 {
		t.Errorf("Expected implied id 41 slot 2 frame 500, got %+v", *got)
	}
}

// TestPacketIDAfterPlayerChange tests that a new player always carries its id
func TestPacketIDAfterPlayerChange(t *testing.T) {
	p := NewPacket(476)
	p.Add(&netcmd.FrameInfo{Header: header(5, 1, 10)}, 0)
	p.Add(&netcmd.FrameInfo{Header: header(6, 2, 10)}, 0)

	decoded, err := DecodePacket(p.Bytes())
	if err != nil {
		t.Fatalf("Expected clean decode, got %v", err)
	}
	if decoded[1].Msg.Base().ID != 6 || decoded[1].Msg.Base().PlayerID != 2 {
		t.Errorf("Expected id 6 from slot 2, got %+v", *decoded[1].Msg.Base())
	}
}

// TestPacketFull tests that Add refuses commands past the size limit
func TestPacketFull(t *testing.T) {
	p := NewPacket(40)
	added := 0
	for i := 0; i < 20; i++ {
		ok, err := p.Add(&netcmd.DestroyPlayer{Header: header(uint16(i), 0, 1), PlayerIndex: uint32(i)}, 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !ok {
			break
		}
		added++
	}
	if p.Len() > 40 {
		t.Errorf("Expected packet within 40 bytes, got %d", p.Len())
	}
	if added == 0 || added == 20 {
		t.Errorf("Expected packet to fill partway, added %d", added)
	}

	decoded, err := DecodePacket(p.Bytes())
	if err != nil || len(decoded) != added {
		t.Errorf("Expected %d decoded commands, got %d (err %v)", added, len(decoded), err)
	}

	empty := NewPacket(10)
	if _, err := empty.Add(bigGameCommand(1, 50), 0); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge for an oversized first command, got %v", err)
	}
}

// TestDecodeErrors tests malformed packets
func TestDecodeErrors(t *testing.T) {
	good, _ := EncodeCommand(&netcmd.DisconnectFrame{Header: header(1, 0, 5), DisconnectFrame: 5}, 0)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated data", good[:len(good)-2], ErrTruncated},
		{"bad tag", []byte{'X', 1}, ErrBadTag},
		{"unknown type", []byte{'T', 250, 'D'}, ErrUnknownCommand},
		{"truncated frame", []byte{'F', 1, 2}, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePacket(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestFragmentReassembleAnyOrder tests chunk reassembly in shuffled order
func TestFragmentReassembleAnyOrder(t *testing.T) {
	original := bigGameCommand(77, 200)
	nextID := uint16(1000)
	wrappers, err := Fragment(original, 0x01, 100, func() uint16 { nextID++; return nextID })
	if err != nil {
		t.Fatalf("Expected fragment to succeed, got %v", err)
	}
	if len(wrappers) < 3 {
		t.Fatalf("Expected several chunks, got %d", len(wrappers))
	}

	for _, w := range wrappers {
		p := NewPacket(100)
		if ok, err := p.Add(w, 0x01); !ok || err != nil {
			t.Fatalf("Expected chunk %d to fit a 100 byte packet, got ok=%v err=%v", w.ChunkNumber, ok, err)
		}
		if w.WrappedCommandID != 77 {
			t.Errorf("Expected wrapped id 77, got %d", w.WrappedCommandID)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 5; trial++ {
		order := rng.Perm(len(wrappers))
		r := NewReassembler(1 << 20)

		var payload []byte
		for i, idx := range order {
			data, done, err := r.Add(wrappers[idx])
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if done != (i == len(order)-1) {
				t.Fatalf("Expected completion only on the last chunk, got done=%v at %d/%d", done, i+1, len(order))
			}
			payload = data
		}

		d, err := DecodeCommand(payload)
		if err != nil {
			t.Fatalf("Expected reassembled command to decode, got %v", err)
		}
		if !reflect.DeepEqual(d.Msg, original) {
			t.Errorf("Expected reassembled command to match original")
		}
		if d.Relay != 0x01 {
			t.Errorf("Expected relay 0x01, got 0x%02x", d.Relay)
		}
		if r.Pending() != 0 {
			t.Errorf("Expected nothing pending, got %d", r.Pending())
		}
	}
}

// TestReassemblerNeverCompletesEarly tests missing and duplicate chunks
func TestReassemblerNeverCompletesEarly(t *testing.T) {
	wrappers, err := Fragment(bigGameCommand(3, 100), 0, 80, func() uint16 { return 0 })
	if err != nil {
		t.Fatalf("Expected fragment to succeed, got %v", err)
	}
	last := len(wrappers) - 1

	r := NewReassembler(1 << 20)
	for i := 0; i < last; i++ {
		// Each chunk twice; the duplicate must not count.
		for j := 0; j < 2; j++ {
			if _, done, err := r.Add(wrappers[i]); done || err != nil {
				t.Fatalf("Expected incomplete, got done=%v err=%v", done, err)
			}
		}
	}

	missing := r.Missing(2, 3)
	if len(missing) != 1 || missing[0] != uint32(last) {
		t.Errorf("Expected chunk %d missing, got %v", last, missing)
	}

	if _, done, _ := r.Add(wrappers[last]); !done {
		t.Error("Expected completion after the final chunk")
	}
}

// TestReassemblerRejectsInconsistentChunks tests header validation
func TestReassemblerRejectsInconsistentChunks(t *testing.T) {
	r := NewReassembler(100)
	first := &netcmd.Wrapper{WrappedCommandID: 1, ChunkNumber: 0, NumChunks: 2, TotalDataLength: 8, Data: []byte("abcd")}
	if _, _, err := r.Add(first); err != nil {
		t.Fatalf("Expected first chunk accepted, got %v", err)
	}

	tests := []struct {
		name string
		w    *netcmd.Wrapper
		want error
	}{
		{"chunk count changed", &netcmd.Wrapper{WrappedCommandID: 1, ChunkNumber: 1, NumChunks: 3, TotalDataLength: 8, DataOffset: 4, Data: []byte("efgh")}, ErrBadChunk},
		{"chunk out of range", &netcmd.Wrapper{WrappedCommandID: 2, ChunkNumber: 2, NumChunks: 2, TotalDataLength: 8}, ErrBadChunk},
		{"overrun", &netcmd.Wrapper{WrappedCommandID: 2, ChunkNumber: 1, NumChunks: 2, TotalDataLength: 8, DataOffset: 6, Data: []byte("xyz")}, ErrBadChunk},
		{"zero chunks", &netcmd.Wrapper{WrappedCommandID: 2}, ErrBadChunk},
		{"too large", &netcmd.Wrapper{WrappedCommandID: 2, NumChunks: 1, TotalDataLength: 1000}, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, done, err := r.Add(tt.w); !errors.Is(err, tt.want) || done {
				t.Errorf("Expected %v, got done=%v err=%v", tt.want, done, err)
			}
		})
	}
}

// TestReassemblerExpire tests dropping stale assemblies
func TestReassemblerExpire(t *testing.T) {
	r := NewReassembler(100)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.Add(&netcmd.Wrapper{WrappedCommandID: 1, NumChunks: 2, TotalDataLength: 4, Data: []byte("ab")})
	now = now.Add(time.Minute)
	r.Add(&netcmd.Wrapper{WrappedCommandID: 2, NumChunks: 2, TotalDataLength: 4, Data: []byte("ab")})

	if dropped := r.Expire(now.Add(-time.Second)); dropped != 1 {
		t.Errorf("Expected 1 expired, got %d", dropped)
	}
	if r.Pending() != 1 {
		t.Errorf("Expected 1 pending, got %d", r.Pending())
	}
	r.DropPlayer(0)
	if r.Pending() != 0 {
		t.Errorf("Expected 0 pending after drop, got %d", r.Pending())
	}
}

// TestFragmentRequiresCommandID tests that id-less commands are not wrapped
func TestFragmentRequiresCommandID(t *testing.T) {
	_, err := Fragment(&netcmd.KeepAlive{}, 0, 476, func() uint16 { return 1 })
	if !errors.Is(err, ErrNotWrappable) {
		t.Errorf("Expected ErrNotWrappable, got %v", err)
	}
}

// TestVerifyFile tests the announced digest
func TestVerifyFile(t *testing.T) {
	data := bytes.Repeat([]byte("terrain"), 500)
	announce := NewFileAnnounce("maps\\big\\big.map", 1, 0xff, data)

	if err := VerifyFile(announce, NewFile("maps\\big\\big.map", data)); err != nil {
		t.Errorf("Expected valid file, got %v", err)
	}

	corrupt := append([]byte(nil), data...)
	corrupt[100] ^= 0xff
	if err := VerifyFile(announce, NewFile("maps\\big\\big.map", corrupt)); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Expected ErrDigestMismatch, got %v", err)
	}
	if err := VerifyFile(announce, NewFile("maps\\other.map", data)); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Expected name mismatch, got %v", err)
	}
}

// TestFrameRoundTrip tests stream framing
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, FramePacket, []byte("payload")); err != nil {
		t.Fatalf("Expected write to succeed, got %v", err)
	}
	if err := WriteFrame(&buf, FramePing, nil); err != nil {
		t.Fatalf("Expected write to succeed, got %v", err)
	}

	typ, body, err := ReadFrame(&buf)
	if err != nil || typ != FramePacket || string(body) != "payload" {
		t.Errorf("Expected packet frame, got type=%d body=%q err=%v", typ, body, err)
	}
	typ, body, err = ReadFrame(&buf)
	if err != nil || typ != FramePing || len(body) != 0 {
		t.Errorf("Expected empty ping, got type=%d body=%q err=%v", typ, body, err)
	}

	bad := []byte{9, 0, FramePacket, 0, 0, 0, 0, 0}
	if _, _, err := ReadFrame(bytes.NewReader(bad)); err == nil {
		t.Error("Expected version mismatch")
	}
}
