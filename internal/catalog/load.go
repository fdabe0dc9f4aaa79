// internal/catalog/load.go
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sua-org/cam-voice/internal/core"
)

// fileFormat é o YAML aceito em CAMERAS_FILE:
//
//	defaults:
//	  width: 640
//	  height: 480
//	cameras:
//	  - id: camera1
//	    name: Portaria
//	    uri: rtsp://192.168.43.67/stream1
//	    username: camera1
//	    password: camera1
type fileFormat struct {
	Defaults struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
		FPS    int `yaml:"fps"`
	} `yaml:"defaults"`
	Cameras []core.CameraDescriptor `yaml:"cameras"`
}

// LoadFile lê o catálogo de um arquivo YAML.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta o YAML do catálogo.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	for i := range f.Cameras {
		if f.Cameras[i].Width == 0 {
			f.Cameras[i].Width = f.Defaults.Width
		}
		if f.Cameras[i].Height == 0 {
			f.Cameras[i].Height = f.Defaults.Height
		}
		if f.Cameras[i].FPS == 0 {
			f.Cameras[i].FPS = f.Defaults.FPS
		}
	}
	return New(f.Cameras...)
}

// ParseEnv monta o catálogo a partir de variáveis de ambiente:
//
//	CAMERAS="camera1=rtsp://...,camera2=rtsp://..."
//
// e, complementando, CAMERA_<ID>_URL / CAMERA_<ID>_USERNAME / CAMERA_<ID>_PASSWORD.
// environ segue o formato de os.Environ().
func ParseEnv(environ []string) (*Catalog, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	var descs []core.CameraDescriptor
	seen := make(map[core.CameraID]int)

	for _, item := range parseCSV(env["CAMERAS"]) {
		name, uri, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("CAMERAS: item inválido %q (esperado id=uri)", item)
		}
		id := core.NormalizeID(name)
		seen[id] = len(descs)
		descs = append(descs, core.CameraDescriptor{ID: id, URI: strings.TrimSpace(uri)})
	}

	// CAMERA_<ID>_URL em ordem alfabética, para a ordem ser determinística
	var urlKeys []string
	for k := range env {
		if strings.HasPrefix(k, "CAMERA_") && strings.HasSuffix(k, "_URL") {
			urlKeys = append(urlKeys, k)
		}
	}
	sort.Strings(urlKeys)
	for _, k := range urlKeys {
		raw := strings.TrimSuffix(strings.TrimPrefix(k, "CAMERA_"), "_URL")
		id := core.NormalizeID(raw)
		if id == "" {
			continue
		}
		if i, ok := seen[id]; ok {
			descs[i].URI = strings.TrimSpace(env[k])
			continue
		}
		seen[id] = len(descs)
		descs = append(descs, core.CameraDescriptor{ID: id, URI: strings.TrimSpace(env[k])})
	}

	for i := range descs {
		prefix := "CAMERA_" + strings.ToUpper(string(descs[i].ID)) + "_"
		descs[i].Username = env[prefix+"USERNAME"]
		descs[i].Password = env[prefix+"PASSWORD"]
		descs[i].Name = env[prefix+"NAME"]
		descs[i].Location = env[prefix+"LOCATION"]
	}

	return New(descs...)
}

func parseCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
