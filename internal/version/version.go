// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/codconfirm/internal/version.version=1.2.0"
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// BuildInfo содержит сведения о текущем бинаре.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info возвращает сведения о сборке.
func Info() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, Date: date}
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// UserAgent возвращает заголовок User-Agent для исходящих запросов к провайдерам.
func UserAgent() string {
	return "codconfirm/" + version
}

// Fields возвращает сведения о сборке в виде полей лога.
func (b BuildInfo) Fields() map[string]any {
	return map[string]any{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("codconfirm version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}
