// Package relay implements an HTTP mailbox the two parties of a channel can
// use instead of copying operations by hand. The relay only stores and
// forwards payloads; every check that matters happens in the receiving
// channel.
//
// Mailboxes are not authenticated: whoever can reach the relay can read or
// drain any mailbox. The server therefore answers loopback clients only,
// unless built WithRemoteAccess for a network that is trusted as a whole
// (remote parties reach a local relay through an SSH tunnel or similar).
package relay

import (
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blndgs/ch4nn337"
)

const defaultMailboxSize = 16

// Server holds one FIFO mailbox per recipient address.
type Server struct {
	mu          sync.Mutex
	boxes       map[common.Address][][]byte
	mailboxSize int
	remote      bool
	logger      *zap.Logger
	engine      *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithMailboxSize bounds the number of queued payloads per recipient.
func WithMailboxSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.mailboxSize = n
		}
	}
}

// WithRemoteAccess lets clients from any address use the relay.
func WithRemoteAccess() Option {
	return func(s *Server) {
		s.remote = true
	}
}

// NewServer returns a relay with its routes registered.
func NewServer(logger *zap.Logger, opts ...Option) (*Server, error) {
	if err := ch4nn337.NewValidator(); err != nil {
		return nil, err
	}
	s := &Server{
		boxes:       make(map[common.Address][][]byte),
		mailboxSize: defaultMailboxSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if !s.remote {
		r.Use(s.localOnly)
	}
	r.POST("/v1/mailbox/:address", s.post)
	r.GET("/v1/mailbox/:address", s.pop)
	s.engine = r
	return s, nil
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) localOnly(c *gin.Context) {
	ip := net.ParseIP(c.RemoteIP())
	if ip == nil || !ip.IsLoopback() {
		s.logger.Warn("rejected remote client", zap.String("remote", c.Request.RemoteAddr))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "relay serves local clients only"})
		return
	}
	c.Next()
}

type mailboxURI struct {
	Address string `uri:"address" binding:"required,eth_addr"`
}

func (s *Server) post(c *gin.Context) {
	var uri mailboxURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := ch4nn337.DecodeUserOperation(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not a user operation"})
		return
	}

	recipient := common.HexToAddress(uri.Address)
	s.mu.Lock()
	box := s.boxes[recipient]
	if len(box) >= s.mailboxSize {
		s.mu.Unlock()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "mailbox full"})
		return
	}
	s.boxes[recipient] = append(box, body)
	queued := len(s.boxes[recipient])
	s.mu.Unlock()

	s.logger.Debug("queued payload", zap.Stringer("recipient", recipient), zap.Int("queued", queued))
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (s *Server) pop(c *gin.Context) {
	var uri mailboxURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipient := common.HexToAddress(uri.Address)
	s.mu.Lock()
	box := s.boxes[recipient]
	if len(box) == 0 {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "mailbox empty"})
		return
	}
	payload := box[0]
	if len(box) == 1 {
		delete(s.boxes, recipient)
	} else {
		s.boxes[recipient] = box[1:]
	}
	s.mu.Unlock()

	s.logger.Debug("delivered payload", zap.Stringer("recipient", recipient))
	c.Data(http.StatusOK, "application/json", payload)
}
