package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/helixml/folio"
	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/viewport"
	"github.com/helixml/folio/infrastructure/library"
	"github.com/helixml/folio/infrastructure/source"
	"github.com/helixml/folio/internal/config"
	"github.com/helixml/folio/internal/log"
	"github.com/spf13/cobra"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// writeParallelism bounds concurrent PNG encodes.
const writeParallelism = 4

type renderOptions struct {
	envFile    string
	sourceURL  string
	libraryDir string
	outDir     string
	page       int
	mode       string
	scale      float64
	maxWidth   int
	timeout    time.Duration
}

func renderCmd() *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render <document-id>",
		Short: "Render the window around a page to PNG files",
		Long: `Open a document, stream the chunks covering the visible window around
--page and write every page of that window as a PNG.

Documents are read from SOURCE_URL (or --source) when set, otherwise from
the local library directory. With HTTP_CACHE_DIR set, fetched chunks are
cached on disk and reused by later runs.

Environment variables:
  SOURCE_URL                   Document server base URL
  HTTP_CACHE_DIR               Directory caching fetched chunks
  LIBRARY_DIR                  Local PDF directory (default: {data_dir}/library)
  CHUNK_SIZE                   Pages per fetched chunk (default: 8)
  MAX_ACTIVE_RANGES            Ranges kept per scale (default: 3)
  RENDER_CONCURRENCY           Pages rendered in parallel (default: 2)
  RENDER_RETRIES               Retries per fetch and page (default: 2)
  RENDER_BACKOFF_MS            Base retry delay (default: 100)
  READ_AHEAD_SINGLE            Pages before,after in single mode (default: 2,2)
  READ_AHEAD_DOUBLE            Spreads before,after in double mode (default: 2,2)
  READ_AHEAD_SCROLL            Pages before,after in scroll mode (default: 1,2)
  REPORTING_LOG_TIME_INTERVAL  Seconds between progress lines (default: 5)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&opts.sourceURL, "source", "", "Document server base URL")
	cmd.Flags().StringVar(&opts.libraryDir, "library", "", "Local PDF directory")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Output directory (default: {data_dir}/renders)")
	cmd.Flags().IntVar(&opts.page, "page", 1, "Current page")
	cmd.Flags().StringVar(&opts.mode, "mode", string(viewport.ModeSingle), "View mode: single, double, scroll")
	cmd.Flags().Float64Var(&opts.scale, "scale", 1, "Zoom factor; 1 renders at 72 DPI")
	cmd.Flags().IntVar(&opts.maxWidth, "max-width", 0, "Downscale pages wider than this many pixels")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Give up after this long")

	return cmd
}

func runRender(parent context.Context, documentID string, opts renderOptions) error {
	mode, err := viewport.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.envFile)
	if err != nil {
		return err
	}
	cfg = applyRenderOverrides(cfg, opts)
	logger := log.Configure(cfg).Slog()

	src, err := openSource(cfg, logger)
	if err != nil {
		return err
	}

	client, err := folio.New(
		folio.WithSource(src),
		folio.WithConfig(cfg),
		folio.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create folio client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close folio client", slog.Any("error", err))
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.timeout)
	defer cancel()

	session, err := client.Open(ctx, documentID,
		folio.AtPage(opts.page),
		folio.InMode(mode),
		folio.AtScale(opts.scale),
	)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	if err := session.Wait(ctx); err != nil {
		return fmt.Errorf("wait for window: %w", err)
	}
	snap := session.Snapshot()
	if snap.Error != "" {
		return fmt.Errorf("render %s: %s", documentID, snap.Error)
	}

	outDir := opts.outDir
	if outDir == "" {
		outDir = filepath.Join(cfg.RenderOutputDir(), documentID)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	bitmaps := make([]document.Bitmap, len(snap.VisiblePages))
	for i, p := range snap.VisiblePages {
		bmp, ok := session.Bitmap(p)
		if !ok {
			return fmt.Errorf("page %d was not rendered", p)
		}
		bitmaps[i] = bmp
	}

	g := new(errgroup.Group)
	g.SetLimit(writeParallelism)
	for i, p := range snap.VisiblePages {
		path := filepath.Join(outDir, pageFileName(documentID, p, snap.Scale.String()))
		g.Go(func() error {
			return writePNG(path, fit(bitmaps[i], opts.maxWidth))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("rendered pages %d-%d of %s (%d pages) at scale %s to %s\n",
		snap.VisiblePages[0], snap.VisiblePages[len(snap.VisiblePages)-1],
		documentID, snap.TotalPages, snap.Scale, outDir)
	return nil
}

// openSource picks the HTTP source when a server URL is configured and
// the local library otherwise.
func openSource(cfg config.AppConfig, logger *slog.Logger) (document.Source, error) {
	if cfg.SourceURL() == "" {
		lib, err := library.New(cfg.LibraryDir(), cfg.LibraryCacheSize(), library.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open library: %w", err)
		}
		return lib, nil
	}

	var httpOpts []source.HTTPOption
	if dir := cfg.HTTPCacheDir(); dir != "" {
		transport, err := source.NewCachingTransport(dir, http.DefaultTransport)
		if err != nil {
			return nil, fmt.Errorf("create chunk cache: %w", err)
		}
		httpOpts = append(httpOpts, source.WithHTTPClient(&http.Client{Transport: transport}))
	}
	return source.NewHTTP(cfg.SourceURL(), httpOpts...), nil
}

func applyRenderOverrides(cfg config.AppConfig, opts renderOptions) config.AppConfig {
	var o []config.AppConfigOption
	if opts.sourceURL != "" {
		o = append(o, config.WithSourceURL(opts.sourceURL))
	}
	if opts.libraryDir != "" {
		o = append(o, config.WithLibraryDir(opts.libraryDir))
	}
	return cfg.Apply(o...)
}

func pageFileName(documentID string, p int, scale string) string {
	return fmt.Sprintf("%s-p%04d-x%s.png", documentID, p, scale)
}

// fit returns the bitmap's image, downscaled to maxWidth when wider.
func fit(bmp document.Bitmap, maxWidth int) image.Image {
	img := bmp.Image()
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	height := max(b.Dy()*maxWidth/b.Dx(), 1)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
