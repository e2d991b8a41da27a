package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"euphoria-magic/internal/app"
	"euphoria-magic/internal/config"
	"euphoria-magic/internal/fal"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/video"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	referencePath string
	subjectPath   string
	outputDir     string
	character     bool
	params        prompt.Params

	imagePath   string
	videoPrompt string
	duration    int
	resolution  string
)

var generateCommand = &cli.Command{
	Name:  "generate",
	Usage: "Composite a person into a reference scene",
	Description: `Generate produces two variations and writes them to the output folder as
				variation-1 and variation-2. Images may be local paths, http(s) URLs or data URLs.
				Pass "-" as the subject to read it from stdin.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "reference", Aliases: []string{"r"}, Usage: "Scene image", Destination: &referencePath, Required: true},
		&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "Person image", Destination: &subjectPath, Required: true},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output folder", Value: ".", Destination: &outputDir},
		&cli.BoolFlag{Name: "character", Usage: "Call the person CHARACTER in the prompt", Destination: &character},
		&cli.BoolFlag{Name: "preserve-clothing", Destination: &params.PreserveClothing},
		&cli.BoolFlag{Name: "preserve-accessories", Destination: &params.PreserveAccessories},
		&cli.BoolFlag{Name: "preserve-expression", Destination: &params.PreserveExpression},
		&cli.BoolFlag{Name: "copy-pose", Destination: &params.CopyPose},
		&cli.StringFlag{Name: "instructions", Aliases: []string{"i"}, Usage: "Extra instructions", Destination: &params.CustomInstructions},
	},
	Action: func(c *cli.Context) error {
		a, err := setup(c.Context)
		if err != nil {
			return err
		}

		reference, err := loadSource(referencePath)
		if err != nil {
			return fmt.Errorf("reference: %w", err)
		}
		subject, err := loadSource(subjectPath)
		if err != nil {
			return fmt.Errorf("subject: %w", err)
		}

		roles := prompt.SubjectRoles
		if character {
			roles = prompt.CharacterRoles
		}

		result, err := a.Generator.Generate(c.Context, generate.Input{
			Reference: reference,
			Subject:   subject,
			Params:    params,
			Roles:     roles,
		})
		if err != nil {
			return err
		}

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
		for i, img := range result.Images {
			path, err := writeImage(outputDir, fmt.Sprintf("variation-%d", i+1), img)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, path)
		}
		return nil
	},
}

var videoCommand = &cli.Command{
	Name:  "video",
	Usage: "Animate an image with Fal.ai",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "image", Aliases: []string{"m"}, Usage: "Image to animate", Destination: &imagePath, Required: true},
		&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Motion prompt; derived from the image when empty", Destination: &videoPrompt},
		&cli.IntFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Length in seconds", Destination: &duration},
		&cli.StringFlag{Name: "resolution", Usage: "480p, 720p or 1080p", Destination: &resolution},
	},
	Action: func(c *cli.Context) error {
		a, err := setup(c.Context)
		if err != nil {
			return err
		}
		img, err := loadSource(imagePath)
		if err != nil {
			return err
		}
		res, err := a.Video.Run(c.Context, video.Input{
			Image:      img,
			Prompt:     videoPrompt,
			Duration:   duration,
			Resolution: resolution,
		})
		if err != nil {
			var verr *video.ValidationError
			if errors.As(err, &verr) {
				return cli.Exit(strings.Join(verr.Errors, "\n"), 2)
			}
			if errors.Is(err, fal.ErrNoAPIKey) {
				return cli.Exit("set FAL_API_KEY or save a key with PUT /api/keys", 2)
			}
			return err
		}
		return printJSON(c, res)
	},
}

var analyzeCommand = &cli.Command{
	Name:      "analyze",
	Usage:     "Describe the scene of an image",
	ArgsUsage: "[image]   reads the image from stdin when omitted",
	Action: func(c *cli.Context) error {
		a, err := setup(c.Context)
		if err != nil {
			return err
		}

		arg := c.Args().First()
		if arg == "" {
			if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				return errors.New("pass an image or pipe one on stdin")
			}
			arg = "-"
		}
		src, err := loadSource(arg)
		if err != nil {
			return err
		}
		img, err := a.Normalizer.Resolve(c.Context, src)
		if err != nil {
			return err
		}
		scene, err := a.Gemini.AnalyzeScene(c.Context, img)
		if err != nil {
			return err
		}
		return printJSON(c, scene)
	},
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "List recent transformations",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10},
	},
	Action: func(c *cli.Context) error {
		a, err := setup(c.Context)
		if err != nil {
			return err
		}
		entries, err := a.State.History(c.Context)
		if err != nil {
			return err
		}
		if n := c.Int("limit"); n > 0 && len(entries) > n {
			entries = entries[:n]
		}
		for _, e := range entries {
			e.Images = nil
			if err := printJSON(c, e); err != nil {
				return err
			}
		}
		return nil
	},
}

func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.NewLogger(cfg.LogLevel, os.Stderr))
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	euphoria := &cli.App{
		Name:     "euphoria",
		Usage:    "Put a person into any scene from the command line",
		Commands: []*cli.Command{generateCommand, videoCommand, analyzeCommand, historyCommand},
	}
	if err := euphoria.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, filepath.Base(os.Args[0])+":", err)
		os.Exit(1)
	}
}
