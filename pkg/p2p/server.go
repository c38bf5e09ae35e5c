package p2p

import (
	"net"
	"sync"

	"github.com/chronodrachma/chrd/pkg/core/blockchain"
	"github.com/chronodrachma/chrd/pkg/core/mempool"
	"github.com/chronodrachma/chrd/pkg/log"
)

var logger = log.New("p2p")

// Server manages the P2P network. Block gossip (MsgBlock) already covers
// orphan-class blocks: Chain.AddBlock accepts any block the engine's
// fork-choice can place (canonical append, orphan-pool insert, or a
// triggered reorg) rather than failing on an unrecognized parent the way
// a strict single-parent chain would, so a peer a few blocks behind still
// gets every block re-gossiped toward it.
type Server struct {
	Config   ServerConfig
	Chain    *blockchain.Chain
	Mempool  *mempool.Mempool
	peers    map[string]*Peer
	peerMu   sync.RWMutex
	listener net.Listener
	quit     chan struct{}
}

type ServerConfig struct {
	ListenAddr string
	SeedNodes  []string
}

func NewServer(config ServerConfig, chain *blockchain.Chain, mp *mempool.Mempool) *Server {
	return &Server{
		Config:  config,
		Chain:   chain,
		Mempool: mp,
		peers:   make(map[string]*Peer),
		quit:    make(chan struct{}),
	}
}

func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = l
	logger.Info("p2p server listening", "addr", s.Config.ListenAddr)

	// Connect to seeds
	for _, seed := range s.Config.SeedNodes {
		go s.Connect(seed)
	}

	go s.acceptLoop()
	return nil
}

func (s *Server) Connect(addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		logger.Warn("failed to connect to seed", "addr", addr, "err", err)
		return
	}
	s.addPeer(conn, true)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				logger.Warn("accept error", "err", err)
				continue
			}
		}
		s.addPeer(conn, false)
	}
}

func (s *Server) addPeer(conn net.Conn, outbound bool) {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()

	addr := conn.RemoteAddr().String()
	if _, ok := s.peers[addr]; ok {
		conn.Close()
		return
	}

	p := NewPeer(conn, s, outbound)
	s.peers[addr] = p
	p.Start()

	// Send handshake
	p.Send(&MsgVersion{
		Version:     1,
		BlockHeight: s.Chain.Height(),
		From:        s.Config.ListenAddr,
	})
	
	logger.Info("peer connected", "addr", addr, "outbound", outbound)
}

func (s *Server) RemovePeer(p *Peer) {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	
	addr := p.Conn.RemoteAddr().String()
	delete(s.peers, addr)
	p.Stop()
	logger.Info("peer disconnected", "addr", addr)
}

func (s *Server) Broadcast(msg Message) {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()

	for _, p := range s.peers {
		go p.Send(msg)
	}
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return len(s.peers)
}
