package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/homestage/creditcore/internal/ratelimit"
	"github.com/homestage/creditcore/internal/repos/audit"
	"github.com/homestage/creditcore/internal/services/checkout"
	"github.com/homestage/creditcore/internal/services/credits"
)

// NewServer creates a configured *http.Server for the credit-core API.
func NewServer(port uint16, creditsSvc *credits.Service, checkoutSvc *checkout.Service, auditRepo audit.Audit, limiter *ratelimit.Limiter) *http.Server {
	mux := NewRouter(creditsSvc, checkoutSvc, auditRepo, limiter)

	addr := fmt.Sprintf(":%d", port)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
