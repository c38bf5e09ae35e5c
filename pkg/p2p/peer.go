package p2p

import (
	"net"
	"sync"
)

// Peer represents a connected remote node.
type Peer struct {
	Conn     net.Conn
	Server   *Server
	Outbound bool      // True if we initiated the connection
	wg       sync.WaitGroup
	quit     chan struct{}
}

// NewPeer creates a new peer instance.
func NewPeer(conn net.Conn, server *Server, outbound bool) *Peer {
	return &Peer{
		Conn:     conn,
		Server:   server,
		Outbound: outbound,
		quit:     make(chan struct{}),
	}
}

// Start begins the peer's read/write loops.
func (p *Peer) Start() {
	p.wg.Add(1)
	go p.readLoop()
}

// Stop closes the peer connection.
func (p *Peer) Stop() {
	close(p.quit)
	p.Conn.Close()
	p.wg.Wait()
}

// readLoop continuously reads messages from the connection.
func (p *Peer) readLoop() {
	defer p.wg.Done()
	defer p.Server.RemovePeer(p)

	for {
		select {
		case <-p.quit:
			return
		default:
			msg, err := DecodeMessage(p.Conn)
			if err != nil {
				logger.Debug("peer read error", "addr", p.Conn.RemoteAddr(), "err", err)
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *Peer) handleMessage(msg Message) {
	switch m := msg.(type) {
	case *MsgVersion:
		logger.Debug("received version", "addr", p.Conn.RemoteAddr(), "version", m.Version, "height", m.BlockHeight)
		// Handle handshake logic here (e.g., sync chain if behind)
	
	case *MsgBlock:
		logger.Debug("received block", "addr", p.Conn.RemoteAddr(), "hash", m.Block.Hash)
		if err := p.Server.Chain.AddBlock(m.Block); err != nil {
			logger.Warn("failed to add block", "hash", m.Block.Hash, "err", err)
		} else {
			logger.Info("added block from peer, broadcasting", "hash", m.Block.Hash)
			p.Server.Broadcast(m) // Gossip
		}

	case *MsgTx:
		logger.Debug("received tx", "addr", p.Conn.RemoteAddr(), "txid", m.Tx.ID)
		if p.Server.Mempool == nil {
			return
		}
		if err := p.Server.Mempool.AddTransaction(m.Tx); err != nil {
			logger.Debug("rejected tx from peer", "txid", m.Tx.ID, "err", err)
			return
		}
		p.Server.Broadcast(m)
	}
}

// Send sends a message to the peer.
func (p *Peer) Send(msg Message) error {
	return EncodeMessage(p.Conn, msg)
}
