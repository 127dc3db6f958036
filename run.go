package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cartoonize/cartoon"
	"cartoonize/config"
	"cartoonize/domain"
	"cartoonize/imageproc"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type runOptions struct {
	backend  string
	image    string
	prompt   string
	style    string
	ratio    string
	rotation string
	strength float64
	guidance float64
	out      string
	format   string
}

func newRunCmd(load func() (*app, error)) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Cartoonize one photo or prompt",
		Example: `  cartoonize run --backend prompt --prompt "A cyberpunk city with neon lights" --style ghibli
  cartoonize run --backend remote --image me.jpg --style "픽사 | pixar" --ratio 16:9 --out me.png
  cartoonize run --backend local --image me.jpg --rotate left90 --strength 0.6`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			action, err := opts.action()
			if err != nil {
				return err
			}

			creds := a.cfg.Credentials()
			missing := creds.Missing(action.Backend, a.cfg.Generation.RemoteProvider)
			if len(missing) > 0 && isatty.IsTerminal(os.Stdin.Fd()) {
				creds = promptCredentials(bufio.NewReader(os.Stdin), cmd.ErrOrStderr(), creds, missing)
			}

			sess := cartoon.NewSession(a.cfg, creds, a.logger)
			pipeline := cartoon.NewPipeline(a.cfg, a.catalog, a.logger)
			stored, err := pipeline.Run(cmd.Context(), sess, action)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, stored.Result.Caption)
			if stored.Result.IsRemote() {
				fmt.Fprintln(w, stored.Result.URL)
			}
			if stored.Result.Description != "" {
				fmt.Fprintln(w, stored.Result.Description)
			}

			if opts.out == "" {
				if !stored.Result.IsRemote() {
					fmt.Fprintln(cmd.ErrOrStderr(), "result is in memory only; pass --out to save it")
				}
				return nil
			}
			data, _, err := pipeline.Download(cmd.Context(), sess, stored.ID, outputFormat(opts.out, opts.format))
			if err != nil {
				return err
			}
			if err := os.WriteFile(opts.out, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", opts.out, err)
			}
			fmt.Fprintf(w, "saved %s\n", opts.out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.backend, "backend", "prompt", "backend: prompt, remote or local")
	f.StringVar(&opts.image, "image", "", "photo to cartoonize (remote and local backends)")
	f.StringVar(&opts.prompt, "prompt", "", "text prompt (prompt backend)")
	f.StringVar(&opts.style, "style", "ghibli", "style label, display name or token")
	f.StringVar(&opts.ratio, "ratio", "", "size or aspect ratio; defaults to the first of the backend's set")
	f.StringVar(&opts.rotation, "rotate", "none", "rotate the photo: none, left90 or right90")
	f.Float64Var(&opts.strength, "strength", 0, "image-to-image strength (0 uses DEFAULT_STRENGTH)")
	f.Float64Var(&opts.guidance, "guidance", 0, "image-to-image guidance scale (0 uses DEFAULT_GUIDANCE)")
	f.StringVar(&opts.out, "out", "", "write the result to this file")
	f.StringVar(&opts.format, "format", "", "output format: png, jpeg or webp (defaults to the --out extension)")
	return cmd
}

func (o runOptions) action() (cartoon.Action, error) {
	kind, err := domain.ParseBackendKind(o.backend)
	if err != nil {
		return cartoon.Action{}, err
	}
	rotation, err := imageproc.ParseRotation(o.rotation)
	if err != nil {
		return cartoon.Action{}, err
	}

	action := cartoon.Action{
		Backend:  kind,
		Prompt:   o.prompt,
		Style:    o.style,
		Ratio:    o.ratio,
		Rotation: rotation,
		Strength: o.strength,
		Guidance: o.guidance,
	}
	if kind.SourceKind() == domain.SourceImage {
		if o.image == "" {
			return cartoon.Action{}, domain.Validationf("--image is required for the %s backend", kind)
		}
		data, err := os.ReadFile(o.image)
		if err != nil {
			return cartoon.Action{}, fmt.Errorf("failed to read %s: %w", o.image, err)
		}
		action.Upload = data
		action.Filename = o.image
		action.DeclaredSize = int64(len(data))
	}
	return action, nil
}

// promptCredentials asks for each missing key on reader. Empty answers leave
// the key unset.
func promptCredentials(reader *bufio.Reader, w io.Writer, creds config.Credentials, missing []string) config.Credentials {
	var entered config.Credentials
	for _, key := range missing {
		fmt.Fprintf(w, "Enter %s: ", key)
		line, _ := reader.ReadString('\n')
		value := strings.TrimSpace(line)
		switch key {
		case "OPENAI_API_KEY":
			entered.OpenAIKey = value
		case "REPLICATE_API_TOKEN":
			entered.ReplicateToken = value
		case "CLOUDFLARE_ACCOUNT_ID":
			entered.CloudflareAccountID = value
		case "CLOUDFLARE_API_TOKEN":
			entered.CloudflareAPIToken = value
		}
	}
	return creds.Merge(entered)
}

func outputFormat(path, format string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "jpg", "jpeg":
		return imageproc.FormatJPEG
	case "webp":
		return imageproc.FormatWebP
	}
	return imageproc.FormatPNG
}
