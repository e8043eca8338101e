package app

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/petervdpas/protobench/internal/config"
)

const readyTimeout = 5 * time.Second

// NormalizeLocalViewer ensures the viewer only binds to localhost
// and returns the listen addr and browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	return a, "http://" + a
}

func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(projectDir, cfgPath string, cfg config.Config) {
	log.Println("────────────────────────────────────────")
	log.Println("protobench workbench")
	log.Printf(" Project folder : %s", projectDir)
	log.Printf(" Config file    : %s", cfgPath)
	log.Printf(" Profile        : %s", cfg.Profile)
	log.Println("────────────────────────────────────────")
}
