package lockstep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"generals-net/internal/chat"
	"generals-net/internal/config"
	"generals-net/internal/journal"
	"generals-net/internal/metrics"
	"generals-net/internal/netcmd"
	"generals-net/internal/transport"
	"generals-net/internal/wire"
	"generals-net/internal/xfer"
)

// Session errors.
var (
	ErrLeaving     = errors.New("lockstep: local player is leaving")
	ErrUnknownSlot = errors.New("lockstep: slot is not in the game")
)

// Session tuning
const (
	idWindow         = 1 << 16
	reassemblyMax    = 4 << 20          // Largest wrapped command we accept
	reassemblyExpiry = 30 * time.Second // Incomplete wrapped commands are dropped after this
)

// Callbacks notify the game of session events. They run on the session's
// goroutine with the session locked and must not call back into it.
type Callbacks struct {
	OnPlayerLeft func(slot uint8)
	OnFile       func(from uint8, realPath string, data []byte)
	OnProgress   func(slot uint8, percent int)
	OnLoaded     func(slot uint8)
	OnTimeOut    func()
}

// Options configures a Session.
type Options struct {
	ID        uuid.UUID // zero picks a fresh one
	Net       config.NetConfig
	Transport transport.Transport
	Peers     map[uint8]string // address of every remote slot
	Journal   *journal.Journal // optional
	Chat      *chat.Service    // optional
	Paths     xfer.PathTranslator
	Callbacks Callbacks
}

type fileKey struct {
	player   uint8
	portable string
}

type outgoing struct {
	msg   netcmd.Msg
	relay uint8
}

// peer is per-slot connection state.
type peer struct {
	addr      string
	lastSent  time.Time
	lastHeard time.Time
	latency   time.Duration // smoothed round trip of our commands
	progress  int
	loaded    bool
	outbox    []outgoing
}

// Session runs the lockstep protocol for the local slot against every
// remote slot. The game drives frames with FrameReady and TakeFrame and
// submits its own commands with Send; Start runs the network loop.
type Session struct {
	id  uuid.UUID
	cfg config.NetConfig
	tr  transport.Transport

	journal *journal.Journal
	chat    *chat.Service
	paths   xfer.PathTranslator
	cb      Callbacks

	mu     sync.Mutex
	local  uint8
	peers  map[uint8]*peer
	frames []*FrameDataManager // by slot; nil when the slot is not in the game
	seen   []*bitset.BitSet    // unsynchronized command ids already handled, by slot
	nextID uint16

	frame             uint32 // next logic frame to execute
	lastExecution     uint32
	lastFrameComplete uint32
	leaving           bool

	acks        *AckTracker
	runAhead    *RunAheadController
	votes       *DisconnectVotes
	reassembler *wire.Reassembler
	announces   map[fileKey]*netcmd.FileAnnounce
	packet      *wire.Packet

	// FPS measurement over one metrics interval
	framesTaken int
	lastMetrics time.Time

	running  bool
	stopChan chan struct{}
	done     chan struct{}

	packetsIn, packetsOut uint64
	bytesIn, bytesOut     uint64
	sendErrors            uint64
}

// NewSession creates a session for the local slot in opts.Net.
func NewSession(opts Options) (*Session, error) {
	cfg := opts.Net
	if cfg.LocalSlot < 0 || cfg.LocalSlot >= cfg.MaxSlots || cfg.MaxSlots > 8 {
		return nil, fmt.Errorf("lockstep: local slot %d outside %d slots", cfg.LocalSlot, cfg.MaxSlots)
	}
	if opts.Transport == nil {
		return nil, errors.New("lockstep: no transport")
	}

	s := &Session{
		id:          opts.ID,
		cfg:         cfg,
		tr:          opts.Transport,
		journal:     opts.Journal,
		chat:        opts.Chat,
		paths:       opts.Paths,
		cb:          opts.Callbacks,
		local:       uint8(cfg.LocalSlot),
		peers:       make(map[uint8]*peer),
		frames:      make([]*FrameDataManager, cfg.MaxSlots),
		seen:        make([]*bitset.BitSet, cfg.MaxSlots),
		acks:        NewAckTracker(cfg.ResendTimeout),
		runAhead:    NewRunAheadController(cfg),
		votes:       NewDisconnectVotes(cfg.MaxSlots, uint8(cfg.LocalSlot)),
		reassembler: wire.NewReassembler(reassemblyMax),
		announces:   make(map[fileKey]*netcmd.FileAnnounce),
		packet:      wire.NewPacket(cfg.MaxPacketSize),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	if s.id == uuid.Nil {
		s.id = uuid.New()
	}

	s.frames[s.local] = NewFrameDataManager(s.local, cfg.MaxFramesAhead)
	for slot, addr := range opts.Peers {
		if int(slot) >= cfg.MaxSlots || slot == s.local {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
		}
		s.peers[slot] = &peer{addr: addr, progress: -1}
		s.frames[slot] = NewFrameDataManager(slot, cfg.MaxFramesAhead)
		s.seen[slot] = bitset.New(idWindow)
	}

	// Nobody sends commands for the first run-ahead frames.
	runAhead, _ := s.runAhead.Current()
	for _, m := range s.frames {
		if m == nil {
			continue
		}
		for f := 0; f < runAhead; f++ {
			m.SetCommandCount(uint32(f), 0)
		}
	}
	s.lastExecution = uint32(runAhead - 1)
	s.lastFrameComplete = uint32(runAhead - 1)

	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID { return s.id }

// LocalSlot returns our slot.
func (s *Session) LocalSlot() uint8 { return s.local }

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start starts the transport and the network loop. The loop stops when ctx
// is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.lastMetrics = time.Now()
	s.mu.Unlock()

	if err := s.tr.Start(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("start transport: %w", err)
	}

	interval := time.Second / time.Duration(max(s.cfg.FrameRate, 1))
	go s.run(ctx, interval)

	log.Printf("✅ Lockstep session %s started: slot %d, %d peers, tick %v", s.id, s.local, len(s.peers), interval)
	return nil
}

// Stop ends the network loop and closes the transport.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	<-s.done
	s.tr.Close()

	s.mu.Lock()
	s.acks.Reset()
	for _, m := range s.frames {
		if m != nil {
			m.Reset()
		}
	}
	s.mu.Unlock()
	log.Printf("🛑 Lockstep session %s stopped", s.id)
}

func (s *Session) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	inbox := s.tr.Inbox()
	for {
		select {
		case d, ok := <-inbox:
			if !ok {
				return
			}
			s.handlePacket(d)
		case now := <-ticker.C:
			s.tick(now)
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

// tick resends, keeps idle peers alive, exchanges run-ahead metrics and
// flushes queued commands.
func (s *Session) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.acks.Due(now) {
		s.queue(r.To, r.Msg, 0)
	}

	for slot, p := range s.peers {
		if s.frames[slot].Quitting() {
			continue
		}
		if len(p.outbox) == 0 && now.Sub(p.lastSent) >= s.cfg.KeepAliveInterval {
			ka := &netcmd.KeepAlive{}
			ka.PlayerID = s.local
			s.queue(slot, ka, 0)
		}
	}

	if now.Sub(s.lastMetrics) >= s.cfg.MetricsInterval {
		s.exchangeMetrics(now)
	}

	if n := s.reassembler.Expire(now.Add(-reassemblyExpiry)); n > 0 {
		log.Printf("⚠️ Dropped %d incomplete wrapped commands", n)
	}

	s.flush(now)
}

// =============================================================================
// SENDING
// =============================================================================

// Send submits a local command to every remote player. Synchronized
// commands are scheduled run-ahead frames from now and also kept for the
// local frame.
func (s *Session) Send(msg netcmd.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaving {
		return ErrLeaving
	}
	s.prepare(msg)
	s.dispatch(msg, s.activePeers(), true)
	return nil
}

// SendChat sends a chat line to the slots in mask.
func (s *Session) SendChat(text string, mask int32) error {
	return s.Send(&netcmd.Chat{Text: text, PlayerMask: mask})
}

// SendFile announces and sends a file to every remote player.
func (s *Session) SendFile(realPath string, data []byte) error {
	if s.paths == nil {
		return errors.New("lockstep: no path translator for file transfer")
	}
	portable := s.paths.RealMapPathToPortableMapPath(realPath)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaving {
		return ErrLeaving
	}
	mask := uint8(0)
	for slot := range s.peers {
		mask |= 1 << slot
	}

	// The file ID is the announce's own command ID; the file takes the next.
	announce := wire.NewFileAnnounce(portable, 0, mask, data)
	s.prepare(announce)
	announce.FileID = announce.ID
	file := wire.NewFile(portable, data)
	s.prepare(file)
	peers := s.activePeers()
	s.dispatch(announce, peers, true)
	s.dispatch(file, peers, true)
	return nil
}

// ReportProgress sends our map load progress.
func (s *Session) ReportProgress(percent int) error {
	return s.Send(&netcmd.Progress{Percentage: uint8(min(max(percent, 0), 100))})
}

// LoadComplete tells every peer we finished loading.
func (s *Session) LoadComplete() error {
	return s.Send(&netcmd.LoadComplete{})
}

// prepare fills in the header of a local command.
func (s *Session) prepare(msg netcmd.Msg) {
	h := msg.Base()
	h.PlayerID = s.local
	if msg.Type().RequiresCommandID() {
		h.ID = s.nextCommandID()
	}
	if msg.Type().IsSynchronized() {
		h.ExecutionFrame = s.executionFrame()
	} else {
		h.ExecutionFrame = s.frame
	}
	h.Stamp()
}

func (s *Session) nextCommandID() uint16 {
	id := s.nextID
	s.nextID++
	return id
}

// executionFrame is the frame local commands issued now run on. It never
// moves backwards when run-ahead shrinks.
func (s *Session) executionFrame() uint32 {
	runAhead, _ := s.runAhead.Current()
	if f := s.frame + uint32(runAhead); f > s.lastExecution {
		s.lastExecution = f
	}
	return s.lastExecution
}

// dispatch queues a prepared command to dests, tracks it for acks and, if
// keepLocal, stores it for our own frame.
func (s *Session) dispatch(msg netcmd.Msg, dests *bitset.BitSet, keepLocal bool) {
	t := msg.Type()
	ref := netcmd.NewRef(msg, func(netcmd.Msg) { metrics.AddLiveCommands(-1) })
	metrics.AddLiveCommands(1)
	defer ref.Release()

	if keepLocal && t.IsSynchronized() && t != netcmd.TypeFrameInfo {
		s.frames[s.local].AddCommand(ref.Clone())
	}
	s.acks.Track(ref, dests, time.Now())

	for i, ok := dests.NextSet(0); ok; i, ok = dests.NextSet(i + 1) {
		s.queue(uint8(i), msg, 0)
	}

	metrics.RecordCommandSent(t.String())
	if s.journal != nil {
		if payload, err := wire.EncodeCommand(msg, 0); err == nil {
			s.journal.Record(journal.DirectionOut, msg, 0, payload)
		}
	}

	if keepLocal && s.chat != nil && (t == netcmd.TypeChat || t == netcmd.TypeDisconnectChat) {
		s.chat.Accept(msg)
	}
}

// activePeers returns the slots still in the game.
func (s *Session) activePeers() *bitset.BitSet {
	b := bitset.New(uint(s.cfg.MaxSlots))
	for slot := range s.peers {
		if !s.frames[slot].Quitting() {
			b.Set(uint(slot))
		}
	}
	return b
}

// queue adds msg to a peer's outbox, splitting it into wrappers when it
// cannot fit in one packet.
func (s *Session) queue(to uint8, msg netcmd.Msg, relay uint8) {
	p, ok := s.peers[to]
	if !ok {
		return
	}

	if msg.Type().RequiresCommandID() && msg.Type() != netcmd.TypeWrapper {
		if data, err := wire.EncodeCommand(msg, relay); err == nil && len(data) > s.cfg.MaxPacketSize {
			wrappers, err := wire.Fragment(msg, relay, s.cfg.MaxPacketSize, s.nextCommandID)
			if err != nil {
				log.Printf("❌ Cannot fragment %s %d: %v", msg.Type(), msg.Base().ID, err)
				return
			}
			for _, w := range wrappers {
				p.outbox = append(p.outbox, outgoing{msg: w, relay: relay})
			}
			return
		}
	}
	p.outbox = append(p.outbox, outgoing{msg: msg, relay: relay})
}

// flush packs every outbox into packets and sends them.
func (s *Session) flush(now time.Time) {
	for slot, p := range s.peers {
		if len(p.outbox) == 0 {
			continue
		}
		s.packet.Reset()
		for _, o := range p.outbox {
			added, err := s.packet.Add(o.msg, o.relay)
			if err != nil {
				log.Printf("❌ Dropping unsendable %s to slot %d: %v", o.msg.Type(), slot, err)
				continue
			}
			if !added {
				s.sendPacket(p, now)
				s.packet.Reset()
				if _, err := s.packet.Add(o.msg, o.relay); err != nil {
					log.Printf("❌ Dropping unsendable %s to slot %d: %v", o.msg.Type(), slot, err)
				}
			}
		}
		if s.packet.Count() > 0 {
			s.sendPacket(p, now)
		}
		p.outbox = p.outbox[:0]
	}
}

func (s *Session) sendPacket(p *peer, now time.Time) {
	data := s.packet.Bytes()
	if err := s.tr.Send(p.addr, data); err != nil {
		s.sendErrors++
		if s.sendErrors%100 == 1 {
			log.Printf("⚠️ Send to %s failed: %v (total errors: %d)", p.addr, err, s.sendErrors)
		}
		return
	}
	p.lastSent = now
	s.packetsOut++
	s.bytesOut += uint64(len(data))
	metrics.RecordPacket("out", len(data))
}

// =============================================================================
// FRAMES
// =============================================================================

// FrameReady reports whether every player's commands for frame are in. A
// player whose count was exceeded is asked to resend the frame.
func (s *Session) FrameReady(frame uint32) Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readiness(frame)
}

func (s *Session) readiness(frame uint32) Readiness {
	result := Ready
	for slot, m := range s.frames {
		if m == nil {
			continue
		}
		switch m.Readiness(frame) {
		case NotReady:
			result = NotReady
		case ResendRequired:
			expected, received := m.CommandCount(frame)
			log.Printf("⚠️ Slot %d frame %d has %d commands, expected %d; requesting resend", slot, frame, received, expected)
			m.ResetFrame(frame)
			s.requestResend(uint8(slot), frame)
			result = NotReady
		}
	}
	return result
}

func (s *Session) requestResend(slot uint8, frame uint32) {
	req := &netcmd.FrameResendRequest{FrameToResend: frame}
	s.prepare(req)
	dests := bitset.New(uint(s.cfg.MaxSlots)).Set(uint(slot))
	s.dispatch(req, dests, false)
	metrics.RecordFrameResendRequest()
}

// TakeFrame returns every player's commands for frame, ordered by slot then
// sort number, and advances the logic frame past it. ok is false if the
// frame is not ready. Run-ahead and player-leave commands are applied
// before returning.
func (s *Session) TakeFrame(frame uint32) (cmds []netcmd.Msg, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readiness(frame) != Ready {
		return nil, false
	}

	for _, m := range s.frames {
		if m == nil {
			continue
		}
		for _, ref := range m.Commands(frame) {
			cmds = append(cmds, ref.Msg())
		}
	}

	for _, msg := range cmds {
		switch c := msg.(type) {
		case *netcmd.RunAhead:
			s.runAhead.Apply(c)
			log.Printf("📊 Run-ahead %d at %d fps from frame %d", c.RunAhead, c.FrameRate, frame)
		case *netcmd.PlayerLeave:
			s.playerLeft(c.LeavingPlayerID)
		}
	}

	// Keep the last run-ahead window of frames to answer resend requests.
	keep := uint32(s.cfg.MaxFramesAhead / 2)
	if frame >= keep {
		for _, m := range s.frames {
			if m != nil {
				m.ResetFrame(frame - keep)
			}
		}
	}

	s.frame = frame + 1
	s.framesTaken++
	if !s.leaving {
		s.completeFrames(s.executionFrame() - 1)
	}
	return cmds, true
}

// completeFrames sends our command count for every frame up to through.
func (s *Session) completeFrames(through uint32) {
	for f := s.lastFrameComplete + 1; f <= through && f > s.lastFrameComplete; f++ {
		s.sendFrameInfo(f, s.activePeers())
		s.lastFrameComplete = f
	}
}

func (s *Session) sendFrameInfo(frame uint32, dests *bitset.BitSet) {
	local := s.frames[s.local]
	_, count := local.CommandCount(frame)
	local.SetCommandCount(frame, count)

	info := &netcmd.FrameInfo{CommandCount: uint16(count)}
	s.prepare(info)
	info.ExecutionFrame = frame
	s.dispatch(info, dests, false)
}

// resendFrames answers a resend request with our commands and counts for
// every completed frame from frame on.
func (s *Session) resendFrames(to uint8, frame uint32) {
	if _, ok := s.peers[to]; !ok {
		return
	}
	dests := bitset.New(uint(s.cfg.MaxSlots)).Set(uint(to))
	for f := frame; f <= s.lastFrameComplete && f >= frame; f++ {
		for _, ref := range s.frames[s.local].Commands(f) {
			s.queue(to, ref.Msg(), 0)
		}
		s.sendFrameInfo(f, dests)
	}
}

// Frame returns the next logic frame to execute.
func (s *Session) Frame() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Leave announces that we are leaving. The leave executes on the next
// execution frame; our counts are sent through that frame and no further
// commands are accepted.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaving {
		return nil
	}
	msg := &netcmd.PlayerLeave{LeavingPlayerID: s.local}
	s.prepare(msg)
	s.dispatch(msg, s.activePeers(), true)
	s.completeFrames(msg.ExecutionFrame)
	s.leaving = true
	log.Printf("👋 Leaving game on frame %d", msg.ExecutionFrame)
	return nil
}

// playerLeft removes slot from the game.
func (s *Session) playerLeft(slot uint8) {
	if int(slot) >= len(s.frames) || s.frames[slot] == nil || slot == s.local {
		return
	}
	if s.frames[slot].Quitting() {
		return
	}
	s.frames[slot].SetQuitting(true)
	s.acks.DropPlayer(slot)
	s.runAhead.Forget(slot)
	s.votes.Forget(slot)
	s.reassembler.DropPlayer(slot)
	if s.chat != nil {
		s.chat.PlayerLeft(slot)
	}
	log.Printf("👋 Slot %d left the game", slot)
	if s.cb.OnPlayerLeft != nil {
		s.cb.OnPlayerLeft(slot)
	}
}

// =============================================================================
// DISCONNECTS
// =============================================================================

// VoteDisconnect votes to drop a stalled slot. Each slot gets one vote per
// stall.
func (s *Session) VoteDisconnect(slot uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[slot]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	if s.votes.HasVoted(slot, s.local) {
		return nil
	}

	vote := &netcmd.DisconnectVote{Slot: slot, VoteFrame: s.frame}
	s.prepare(vote)
	s.dispatch(vote, s.activePeers(), false)
	s.applyVote(slot, s.local, s.frame)
	return nil
}

// ReportStall tells peers we are stuck on frame waiting for commands.
func (s *Session) ReportStall(frame uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &netcmd.DisconnectFrame{DisconnectFrame: frame}
	s.prepare(msg)
	s.dispatch(msg, s.activePeers(), false)
	s.votes.ResetVoter(s.local, frame-1)
	return nil
}

// ReportResume tells peers play resumed on frame.
func (s *Session) ReportResume(frame uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &netcmd.DisconnectScreenOff{NewFrame: frame}
	s.prepare(msg)
	s.dispatch(msg, s.activePeers(), false)
	s.votes.ResetVoter(s.local, frame)
	return nil
}

func (s *Session) applyVote(target, voter uint8, frame uint32) {
	count := s.votes.Cast(target, voter, frame)
	log.Printf("🗳️ Slot %d voted to disconnect slot %d on frame %d (%d votes)", voter, target, frame, count)

	if s.votes.IsVotedOut(target, s.frame, s.numPlayers()) {
		log.Printf("🔌 Slot %d voted out", target)
		s.playerLeft(target)
	}
}

// numPlayers counts the slots still in the game, ourselves included.
func (s *Session) numPlayers() int {
	n := 0
	for _, m := range s.frames {
		if m != nil && !m.Quitting() {
			n++
		}
	}
	return n
}

// =============================================================================
// RUN-AHEAD
// =============================================================================

// routerSlot is the lowest slot still in the game. It computes run-ahead
// for everybody.
func (s *Session) routerSlot() uint8 {
	for slot, m := range s.frames {
		if m != nil && !m.Quitting() {
			return uint8(slot)
		}
	}
	return s.local
}

func (s *Session) exchangeMetrics(now time.Time) {
	elapsed := now.Sub(s.lastMetrics).Seconds()
	fps := int(float64(s.framesTaken)/elapsed + 0.5)
	s.framesTaken = 0
	s.lastMetrics = now

	if s.leaving {
		return
	}

	latency := s.averageLatency()
	router := s.routerSlot()
	if router != s.local {
		m := &netcmd.RunAheadMetrics{AverageLatency: float32(latency.Seconds()), AverageFps: uint16(fps)}
		s.prepare(m)
		dests := bitset.New(uint(s.cfg.MaxSlots)).Set(uint(router))
		s.dispatch(m, dests, false)
		return
	}

	s.runAhead.Report(s.local, float32(latency.Seconds()), fps)
	general, slowest, slowSlot, ok := s.runAhead.Compute()
	if !ok {
		return
	}

	// Both variants share one id so that every peer sees the same command
	// for the frame.
	s.prepare(general)
	*slowest.Base() = *general.Base()

	none := bitset.New(uint(s.cfg.MaxSlots))
	dests := s.activePeers().Clear(uint(slowSlot))
	if uint8(slowSlot) == s.local {
		s.dispatch(general, dests, false)
		s.dispatch(slowest, none, true)
		return
	}
	s.dispatch(slowest, none.Set(uint(slowSlot)), false)
	s.dispatch(general, dests, true)
}

// averageLatency is the mean smoothed round trip to the peers still in the
// game.
func (s *Session) averageLatency() time.Duration {
	var total time.Duration
	n := 0
	for slot, p := range s.peers {
		if p.latency > 0 && !s.frames[slot].Quitting() {
			total += p.latency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// RunAhead returns the run-ahead and frame rate in force.
func (s *Session) RunAhead() (runAhead, frameRate int) {
	return s.runAhead.Current()
}

// =============================================================================
// RECEIVING
// =============================================================================

func (s *Session) handlePacket(d transport.Datagram) {
	metrics.RecordPacket("in", len(d.Data))
	cmds, err := wire.DecodePacket(d.Data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetsIn++
	s.bytesIn += uint64(len(d.Data))
	if err != nil {
		metrics.RecordCommandDropped("decode")
		log.Printf("⚠️ Bad packet from %s: %v", d.From, err)
	}
	now := time.Now()
	for _, c := range cmds {
		s.process(c.Msg, c.Relay, now)
	}
}

// process handles one received command.
func (s *Session) process(msg netcmd.Msg, relay uint8, now time.Time) {
	t := msg.Type()
	h := msg.Base()
	metrics.RecordCommandReceived(t.String())

	p, known := s.peers[h.PlayerID]
	if !known {
		metrics.RecordCommandDropped("unknown_slot")
		return
	}
	p.lastHeard = now

	if t.IsAck() {
		if rtt, _ := s.acks.Ack(h.PlayerID, msg, now); rtt > 0 {
			p.latency = smooth(p.latency, rtt)
		}
		return
	}
	if s.frames[h.PlayerID].Quitting() {
		return
	}

	if w, ok := msg.(*netcmd.Wrapper); ok {
		s.processWrapper(w, now)
		return
	}

	if s.journal != nil {
		if payload, err := wire.EncodeCommand(msg, relay); err == nil {
			s.journal.Record(journal.DirectionIn, msg, relay, payload)
		}
	}

	// Ack even duplicates: the first ack may have been lost.
	if t.RequiresAck() {
		ack := netcmd.NewAckBoth(msg)
		ack.PlayerID = s.local
		s.queue(h.PlayerID, ack, 0)
	}

	if t.IsSynchronized() {
		if h.ExecutionFrame < s.frame {
			metrics.RecordCommandDropped("stale_frame")
			return
		}
		if ft, ok := msg.(*netcmd.FrameInfo); ok {
			s.frames[h.PlayerID].SetCommandCount(ft.ExecutionFrame, int(ft.CommandCount))
			return
		}
		if !s.frames[h.PlayerID].AddCommand(netcmd.NewRef(msg)) {
			metrics.RecordCommandDropped("duplicate")
		}
		return
	}

	if t.RequiresCommandID() && !s.markSeen(h.PlayerID, h.ID) {
		metrics.RecordCommandDropped("duplicate")
		return
	}

	switch c := msg.(type) {
	case *netcmd.RunAheadMetrics:
		s.runAhead.Report(h.PlayerID, c.AverageLatency, int(c.AverageFps))
	case *netcmd.FrameResendRequest:
		s.resendFrames(h.PlayerID, c.FrameToResend)
	case *netcmd.Chat:
		if s.chat != nil && c.IsFor(s.local) {
			s.chat.Accept(msg)
		}
	case *netcmd.DisconnectChat:
		if s.chat != nil {
			s.chat.Accept(msg)
		}
	case *netcmd.DisconnectVote:
		s.applyVote(c.Slot, h.PlayerID, c.VoteFrame)
	case *netcmd.DisconnectFrame:
		s.votes.ResetVoter(h.PlayerID, c.DisconnectFrame-1)
	case *netcmd.DisconnectScreenOff:
		s.votes.ResetVoter(h.PlayerID, c.NewFrame)
	case *netcmd.DisconnectPlayer:
		s.playerLeft(c.DisconnectSlot)
	case *netcmd.FileAnnounce:
		s.announces[fileKey{h.PlayerID, c.PortableFilename}] = c
	case *netcmd.File:
		s.processFile(h.PlayerID, c)
	case *netcmd.FileProgress:
		p.progress = int(c.Progress)
	case *netcmd.Progress:
		p.progress = int(c.Percentage)
		if s.cb.OnProgress != nil {
			s.cb.OnProgress(h.PlayerID, int(c.Percentage))
		}
	case *netcmd.LoadComplete:
		p.loaded = true
		if s.cb.OnLoaded != nil {
			s.cb.OnLoaded(h.PlayerID)
		}
	case *netcmd.TimeOutStart:
		if s.cb.OnTimeOut != nil {
			s.cb.OnTimeOut()
		}
	}
}

// markSeen records an unsynchronized command id and reports whether it is
// new. The id half a window ahead is forgotten so ids can wrap.
func (s *Session) markSeen(slot uint8, id uint16) bool {
	seen := s.seen[slot]
	if seen.Test(uint(id)) {
		return false
	}
	seen.Set(uint(id))
	seen.Clear(uint(id+idWindow/2) % idWindow)
	return true
}

func (s *Session) processWrapper(w *netcmd.Wrapper, now time.Time) {
	data, done, err := s.reassembler.Add(w)
	if err != nil {
		metrics.RecordCommandDropped("decode")
		log.Printf("⚠️ Bad wrapper chunk from slot %d: %v", w.PlayerID, err)
		return
	}
	if !done {
		return
	}
	metrics.RecordReassembled()

	inner, err := wire.DecodeCommand(data)
	if err != nil {
		metrics.RecordCommandDropped("decode")
		log.Printf("⚠️ Bad wrapped command from slot %d: %v", w.PlayerID, err)
		return
	}
	s.process(inner.Msg, inner.Relay, now)
}

func (s *Session) processFile(from uint8, f *netcmd.File) {
	key := fileKey{from, f.PortableFilename}
	announce, ok := s.announces[key]
	if !ok {
		log.Printf("⚠️ Unannounced file %s from slot %d", f.PortableFilename, from)
		return
	}
	delete(s.announces, key)

	if err := wire.VerifyFile(announce, f); err != nil {
		log.Printf("❌ File from slot %d rejected: %v", from, err)
		return
	}

	realPath := f.PortableFilename
	if s.paths != nil {
		realPath = f.RealFilename(s.paths)
	}
	log.Printf("💾 Received %s (%d bytes) from slot %d", realPath, len(f.Data), from)
	if s.cb.OnFile != nil {
		s.cb.OnFile(from, realPath, f.Data)
	}

	progress := &netcmd.FileProgress{FileID: announce.FileID, Progress: 100}
	s.prepare(progress)
	s.dispatch(progress, s.activePeers(), false)
}

// smooth is an exponential moving average with alpha 0.1.
func smooth(avg, sample time.Duration) time.Duration {
	if avg == 0 {
		return sample
	}
	return (avg*9 + sample) / 10
}

// =============================================================================
// STATS
// =============================================================================

// PlayerStats describes one remote slot.
type PlayerStats struct {
	Slot      uint8   `json:"slot"`
	Addr      string  `json:"addr"`
	Quitting  bool    `json:"quitting"`
	LatencyMs float64 `json:"latencyMs"`
	Progress  int     `json:"progress"`
	Loaded    bool    `json:"loaded"`
	LastHeard int64   `json:"lastHeard"` // unix millis; 0 if never
}

// Stats is a snapshot of session state for the admin API.
type Stats struct {
	ID           string        `json:"id"`
	LocalSlot    uint8         `json:"localSlot"`
	Frame        uint32        `json:"frame"`
	RunAhead     int           `json:"runAhead"`
	FrameRate    int           `json:"frameRate"`
	Leaving      bool          `json:"leaving"`
	PendingAcks  int           `json:"pendingAcks"`
	Reassembling int           `json:"reassembling"`
	PacketsIn    uint64        `json:"packetsIn"`
	PacketsOut   uint64        `json:"packetsOut"`
	BytesIn      uint64        `json:"bytesIn"`
	BytesOut     uint64        `json:"bytesOut"`
	SendErrors   uint64        `json:"sendErrors"`
	Players      []PlayerStats `json:"players"`
}

// Stats returns current session statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	runAhead, frameRate := s.runAhead.Current()
	st := Stats{
		ID:           s.id.String(),
		LocalSlot:    s.local,
		Frame:        s.frame,
		RunAhead:     runAhead,
		FrameRate:    frameRate,
		Leaving:      s.leaving,
		PendingAcks:  s.acks.Pending(),
		Reassembling: s.reassembler.Pending(),
		PacketsIn:    s.packetsIn,
		PacketsOut:   s.packetsOut,
		BytesIn:      s.bytesIn,
		BytesOut:     s.bytesOut,
		SendErrors:   s.sendErrors,
	}
	for slot, p := range s.peers {
		ps := PlayerStats{
			Slot:      slot,
			Addr:      p.addr,
			Quitting:  s.frames[slot].Quitting(),
			LatencyMs: float64(p.latency.Microseconds()) / 1000,
			Progress:  p.progress,
			Loaded:    p.loaded,
		}
		if !p.lastHeard.IsZero() {
			ps.LastHeard = p.lastHeard.UnixMilli()
		}
		st.Players = append(st.Players, ps)
	}
	sort.Slice(st.Players, func(i, j int) bool { return st.Players[i].Slot < st.Players[j].Slot })
	return st
}
