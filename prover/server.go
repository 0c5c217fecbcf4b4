package prover

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// API is the JSON-RPC surface, published under the "prover" namespace:
// prover_prove and prover_test.
type API struct {
	prover *Prover
}

// Prove attests the block range [start, end].
func (a *API) Prove(ctx context.Context, start, end hexutil.Uint64) (*Poe, error) {
	if end < start {
		return nil, &invalidRangeError{start: uint64(start), end: uint64(end)}
	}
	return a.prover.Prove(ctx, uint64(start), uint64(end))
}

// Test runs the sparse-trie diagnostic replay of one block.
func (a *API) Test(ctx context.Context, number hexutil.Uint64) error {
	return a.prover.TestBlock(ctx, uint64(number))
}

// invalidRangeError maps to a JSON-RPC client error.
type invalidRangeError struct {
	start, end uint64
}

func (e *invalidRangeError) Error() string {
	return fmt.Sprintf("invalid block range %d..%d", e.start, e.end)
}

func (e *invalidRangeError) ErrorCode() int { return -32602 }

// Server is the HTTP front-end over the geth JSON-RPC handler. It owns
// no prover state.
type Server struct {
	cfg  ServerConfig
	rpc  *rpc.Server
	http *http.Server
}

// NewServer registers the API and prepares the listener on port.
func NewServer(cfg ServerConfig, port int, p *Prover) (*Server, error) {
	handler := rpc.NewServer()
	if err := handler.RegisterName("prover", &API{prover: p}); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, rpc: handler}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           s.limitBody(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BodyLimit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.BodyLimit))
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is canceled, then shuts down gracefully. TLS is
// enabled when the config carries a certificate path prefix.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if s.cfg.TLS != "" {
			errc <- s.http.ListenAndServeTLS(s.cfg.TLS+".crt", s.cfg.TLS+".key")
			return
		}
		errc <- s.http.ListenAndServe()
	}()
	log.Info("JSON-RPC server listening", "addr", s.http.Addr, "tls", s.cfg.TLS != "")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.rpc.Stop()
		return s.http.Shutdown(shutdownCtx)
	}
}
