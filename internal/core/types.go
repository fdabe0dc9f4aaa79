// internal/core/types.go
package core

import (
	"image"
	"net/url"
	"strings"
	"time"
)

// CameraID identifica uma câmera no catálogo. Sempre normalizado (minúsculo, sem espaços nas pontas).
type CameraID string

// NormalizeID aplica a regra única de normalização de nomes de câmera,
// usada tanto pelo catálogo quanto pelos comandos de voz.
func NormalizeID(name string) CameraID {
	return CameraID(strings.ToLower(strings.TrimSpace(name)))
}

func (id CameraID) String() string { return string(id) }

// CameraDescriptor é imutável durante a vida do processo.
type CameraDescriptor struct {
	ID       CameraID `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Location string   `json:"location,omitempty" yaml:"location"`
	URI      string   `json:"uri" yaml:"uri"`
	Username string   `json:"-" yaml:"username"`
	Password string   `json:"-" yaml:"password"`

	// Resolução de saída do decoder; zero usa os defaults do backend.
	Width  int `json:"width,omitempty" yaml:"width"`
	Height int `json:"height,omitempty" yaml:"height"`
	FPS    int `json:"fps,omitempty" yaml:"fps"`
}

// DisplayName devolve Name ou, se vazio, o próprio ID.
func (d CameraDescriptor) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return string(d.ID)
}

// ConnectURL injeta usuário/senha na URI quando ela ainda não traz userinfo.
func (d CameraDescriptor) ConnectURL() string {
	if d.Username == "" {
		return d.URI
	}
	u, err := url.Parse(d.URI)
	if err != nil || u.User != nil {
		return d.URI
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	} else {
		u.User = url.User(d.Username)
	}
	return u.String()
}

// Redacted devolve a URL de conexão sem a senha, para log.
func (d CameraDescriptor) Redacted() string {
	u, err := url.Parse(d.ConnectURL())
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}

// Scheme devolve o esquema da URI em minúsculo ("rtsp", "http", "synthetic"...).
func (d CameraDescriptor) Scheme() string {
	u, err := url.Parse(d.URI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Frame é um quadro já decodificado.
type Frame struct {
	Image      image.Image
	Seq        uint64
	CapturedAt time.Time
}

// ConnectionState representa o estado atual de conectividade com a câmera.
// Os valores são expostos em /api/cameras e no status publicado via MQTT.
type ConnectionState string

const (
	ConnectionStateConnecting     ConnectionState = "connecting"
	ConnectionStateOnline         ConnectionState = "online"
	ConnectionStateOffline        ConnectionState = "offline"
	ConnectionStateNotEstablished ConnectionState = "not_established"
)
