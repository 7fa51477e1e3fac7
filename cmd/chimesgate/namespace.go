package main

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goatkit/chimesgate/internal/appconfig"
	"github.com/goatkit/chimesgate/internal/config"
)

var namespaceCmd = &cobra.Command{
	Use:   "namespace",
	Short: "Export or import a single namespace's model file",
}

var namespaceExportCmd = &cobra.Command{
	Use:   "export <namespace> <output.zip>",
	Short: "Package one namespace's model file into a zip archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportNamespace(args[0], args[1])
	},
}

var namespaceImportCmd = &cobra.Command{
	Use:   "import <archive.zip>",
	Short: "Extract a namespace archive into the model directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return importNamespace(args[0])
	},
}

func init() {
	rootCmd.AddCommand(namespaceCmd)
	namespaceCmd.AddCommand(namespaceExportCmd)
	namespaceCmd.AddCommand(namespaceImportCmd)
}

// exportNamespace reads the server config to find the model directory,
// loads name's own model file to confirm it parses, and zips it up as a
// single-entry archive named name+".toml".
func exportNamespace(name, outputPath string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	entryName := name + ".toml"
	srcPath := filepath.Join(cfg.ModelDir, entryName)
	if _, err := config.LoadNamespaceFile(srcPath); err != nil {
		return fmt.Errorf("namespace export: %s is not a valid namespace model: %w", srcPath, err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("namespace export: creating %s: %w", outputPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	if err := addFileToZip(zw, srcPath, entryName); err != nil {
		zw.Close()
		return fmt.Errorf("namespace export: packing %s: %w", srcPath, err)
	}
	return zw.Close()
}

// importNamespace extracts archivePath's single namespace model file into
// the configured model directory, guarding against zip-slip by rejecting
// any entry that escapes the destination via "..".
func importNamespace(archivePath string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("namespace import: opening %s: %w", archivePath, err)
	}
	defer reader.Close()

	imported := 0
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || filepath.Ext(f.Name) != ".toml" {
			continue
		}
		cleanName := filepath.Clean(f.Name)
		if strings.HasPrefix(cleanName, "..") {
			return fmt.Errorf("namespace import: refusing entry %q: escapes archive root", f.Name)
		}
		destPath := filepath.Join(cfg.ModelDir, cleanName)
		if err := extractZipFile(f, destPath); err != nil {
			return fmt.Errorf("namespace import: extracting %s: %w", f.Name, err)
		}
		imported++
	}
	if imported == 0 {
		return fmt.Errorf("namespace import: %s contains no .toml model file", archivePath)
	}
	return nil
}

func addFileToZip(w *zip.Writer, srcPath, zipPath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = zipPath
	header.Method = zip.Deflate

	writer, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(writer, file)
	return err
}

func extractZipFile(f *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
