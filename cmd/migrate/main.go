package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: migrate <compact <tracking-file> | import <legacy-file> <tracking-file>>")
	}

	command := os.Args[1]

	switch command {
	case "compact":
		if err := compact(os.Args[2]); err != nil {
			log.Fatal(err)
		}
	case "import":
		if len(os.Args) < 4 {
			log.Fatal("Usage: migrate import <legacy-file> <tracking-file>")
		}
		if err := importLegacy(os.Args[2], os.Args[3]); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown command %q", command)
	}
}

// compact rewrites a tracking file without blank or duplicate lines
func compact(path string) error {
	ids, err := readIDs(path)
	if err != nil {
		return err
	}

	unique := dedupe(ids)
	if len(unique) == len(ids) {
		log.Printf("%s has no duplicates (%d IDs)", path, len(ids))
		return nil
	}

	log.Printf("Compacting %s: %d -> %d IDs", path, len(ids), len(unique))
	return writeIDs(path, unique)
}

// importLegacy merges IDs from a legacy list (one per line or comma separated)
// into a tracking file, keeping the tracking file's existing order first.
func importLegacy(legacyPath, trackingPath string) error {
	legacy, err := readIDs(legacyPath)
	if err != nil {
		return err
	}
	if len(legacy) == 0 {
		log.Printf("No IDs in %s, nothing to import", legacyPath)
		return nil
	}

	existing, err := readIDs(trackingPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	merged := dedupe(append(existing, legacy...))
	log.Printf("Importing %d IDs from %s into %s (%d new)", len(legacy), legacyPath, trackingPath, len(merged)-len(dedupe(existing)))
	return writeIDs(trackingPath, merged)
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, part := range strings.Split(scanner.Text(), ",") {
			if id := strings.TrimSpace(part); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ids, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func writeIDs(path string, ids []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		w.WriteString(id)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
