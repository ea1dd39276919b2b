package backend

import (
	"github.com/gorilla/handlers"
)

// handleCompression gzips or deflates responses for clients which accept it
func (b *Backend) handleCompression() {
	b.router.Use(handlers.CompressHandler)
}
