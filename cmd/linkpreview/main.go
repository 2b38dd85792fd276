// Command linkpreview renders Open Graph link previews from Liquid templates,
// serves them over HTTP and manages the on-disk preview cache.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

var version = "dev"

// CLI is the command line interface.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Render RenderCmd `cmd:"" help:"Render a Liquid template with the linkpreview tag."`
	Fetch  FetchCmd  `cmd:"" help:"Print the preview record for a URL as JSON."`
	Serve  ServeCmd  `cmd:"" help:"Serve previews over HTTP."`
	Cache  CacheCmd  `cmd:"" help:"Inspect and maintain the preview cache."`
}

// Globals are flags shared by every command.
type Globals struct {
	Config kong.ConfigFlag `help:"Load flag defaults from a YAML file." placeholder:"FILE"`

	LogLevel  string `help:"Log level (${enum})." enum:"debug,info,warn,error" default:"info" env:"LINKPREVIEW_LOG_LEVEL"`
	LogFormat string `help:"Log format (${enum})." enum:"tint,text,json" default:"tint" env:"LINKPREVIEW_LOG_FORMAT"`

	CacheDir     string        `help:"Directory holding cached previews." default:".linkpreview-cache" type:"path" env:"LINKPREVIEW_CACHE_DIR"`
	CacheBackend string        `help:"Cache storage backend (${enum})." enum:"fs,bolt" default:"fs" env:"LINKPREVIEW_CACHE_BACKEND"`
	CacheTTL     time.Duration `name:"cache-ttl" help:"Expire populated previews after this long. 0 keeps them forever." default:"0s" env:"LINKPREVIEW_CACHE_TTL"`
	EmptyTTL     time.Duration `name:"empty-ttl" help:"Expire empty previews (failed fetches) after this long. 0 keeps them forever." default:"0s" env:"LINKPREVIEW_EMPTY_TTL"`

	FetchTimeout time.Duration `help:"Timeout for fetching a page." default:"10s" env:"LINKPREVIEW_FETCH_TIMEOUT"`
	UserAgent    string        `help:"User-Agent sent when fetching pages." env:"LINKPREVIEW_USER_AGENT"`
	MaxBodyBytes int64         `help:"Maximum number of page bytes read." default:"2097152" env:"LINKPREVIEW_MAX_BODY_BYTES"`

	Template     string `help:"Liquid template used for the preview fragment instead of the built-in HTML." type:"existingfile" env:"LINKPREVIEW_TEMPLATE"`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export (e.g. localhost:4317)." env:"LINKPREVIEW_OTLP_ENDPOINT"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("linkpreview"),
		kong.Description("Open Graph link previews for static sites."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Configuration(YAMLLoader, ".linkpreview.yaml", "~/.config/linkpreview/config.yaml"),
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
