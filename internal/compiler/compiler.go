// Package compiler runs the external toolchain that turns contract sources into
// build artifacts.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/config"
)

// Compiler produces artifacts for the contracts of the project.
type Compiler interface {
	Compile(ctx context.Context) error
}

// New returns the compiler selected by cfg: the configured toolchain command when
// one is set, otherwise solc.
func New(cfg *config.Configuration, workDir string, logger *slog.Logger) Compiler {
	if len(cfg.Compiler.Command) > 0 {
		return &CommandCompiler{
			Command: cfg.Compiler.Command,
			Dir:     workDir,
			Logger:  logger,
		}
	}
	return &SolcCompiler{
		Solc:         cfg.Compiler.Solc,
		Version:      cfg.Solidity.Version,
		Optimize:     cfg.Solidity.OptimizerEnabled,
		Runs:         cfg.Solidity.OptimizerRuns,
		SourcesDir:   cfg.Paths.Sources,
		ArtifactsDir: cfg.Paths.Artifacts,
		Logger:       logger,
	}
}

// Nop skips compilation and uses the artifacts already on disk.
type Nop struct{}

// Compile implements Compiler.
func (Nop) Compile(context.Context) error { return nil }

// SolcCompiler invokes solc directly on every .sol file under SourcesDir and writes
// <Name>.abi and <Name>.bin files to ArtifactsDir.
type SolcCompiler struct {
	Solc         string
	Version      string // Expected compiler version, e.g. "0.8.4"
	Optimize     bool
	Runs         int
	SourcesDir   string
	ArtifactsDir string
	Logger       *slog.Logger
}

// Compile implements Compiler.
func (c *SolcCompiler) Compile(ctx context.Context) error {
	logger := loggerOrDefault(c.Logger)
	solc := c.Solc
	if solc == "" {
		solc = "solc"
	}

	sources, err := findSources(c.SourcesDir)
	if err != nil {
		return &popdeploy.CompileError{Tool: solc, Err: err}
	}
	if len(sources) == 0 {
		logger.Info("nothing to compile", slog.String("sources", c.SourcesDir))
		return nil
	}

	path, err := exec.LookPath(solc)
	if err != nil {
		return &popdeploy.CompileError{Tool: solc, Err: err}
	}

	c.checkVersion(ctx, path, logger)

	args := make([]string, 0, len(sources)+8)
	if c.Optimize {
		args = append(args, "--optimize", "--optimize-runs", strconv.Itoa(c.Runs))
	}
	args = append(args, "--abi", "--bin", "--overwrite", "-o", c.ArtifactsDir)
	args = append(args, sources...)

	return run(ctx, logger, solc, exec.CommandContext(ctx, path, args...)) //nolint:gosec // G204: compiler path comes from configuration
}

func (c *SolcCompiler) checkVersion(ctx context.Context, path string, logger *slog.Logger) {
	if c.Version == "" {
		return
	}
	out, err := exec.CommandContext(ctx, path, "--version").Output() //nolint:gosec // G204: compiler path comes from configuration
	if err != nil {
		logger.Warn("could not determine solc version", slog.String("error", err.Error()))
		return
	}
	if !strings.Contains(string(out), "Version: "+c.Version) {
		logger.Warn("solc version differs from configured version",
			slog.String("expected", c.Version),
			slog.String("reported", strings.TrimSpace(string(out))),
		)
	}
}

// CommandCompiler runs a project toolchain such as "forge build" or
// "npx hardhat compile" in Dir.
type CommandCompiler struct {
	Command []string
	Dir     string
	Logger  *slog.Logger
}

// Compile implements Compiler.
func (c *CommandCompiler) Compile(ctx context.Context) error {
	if len(c.Command) == 0 {
		return &popdeploy.CompileError{Tool: "compiler", Err: errors.New("empty compiler command")}
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...) //nolint:gosec // G204: command comes from configuration
	cmd.Dir = c.Dir
	return run(ctx, loggerOrDefault(c.Logger), c.Command[0], cmd)
}

func run(ctx context.Context, logger *slog.Logger, tool string, cmd *exec.Cmd) error {
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Debug("running compiler", slog.String("command", strings.Join(cmd.Args, " ")))

	start := time.Now()
	err := cmd.Run()

	logger.Debug("compiler finished",
		slog.String("tool", tool),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("error", err != nil),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &popdeploy.CompileError{Tool: tool, Output: output.String(), Err: err}
	}
	return nil
}

func findSources(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	var sources []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		if !d.IsDir() && filepath.Ext(path) == ".sol" {
			sources = append(sources, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return sources, err
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return logger
}
