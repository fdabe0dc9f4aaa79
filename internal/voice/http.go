// internal/voice/http.go
package voice

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxBody = 64 << 10

// HTTPHandler atende POST /voice. 400 só para corpo inválido; qualquer
// problema do comando vira fala na resposta.
func HTTPHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
			return
		}

		out, err := svc.Handle(body)
		if errors.Is(err, ErrMalformed) {
			svc.log.Warnf("http: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", out)
	}
}
