package utils

import (
	"fmt"
	"math"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	return RenewOutputPathExcept(outputPath, nil)
}

// RenewOutputPathExcept is RenewOutputPath that also skips every candidate
// for which taken reports true.
func RenewOutputPathExcept(outputPath string, taken func(string) bool) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) && (taken == nil || !taken(outputPath)) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// FileNameFromHeader extracts a sanitized file name from a Content-Disposition value.
func FileNameFromHeader(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}

// FileNameFromURL returns the last path segment of link, or "download".
func FileNameFromURL(link string) string {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	pathParts := strings.Split(parsedURL.Path, "/")
	name := pathParts[len(pathParts)-1]
	if name == "" {
		return "download"
	}
	return name
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bps int64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return FormatBytes(uint64(bps)) + "/s"
}

// ParseSpeed reads a bytes-per-second cap such as "750", "500KB", "1.5MB" or
// "2M". Units are binary multiples. "0" and "" mean unlimited.
func ParseSpeed(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "/S")
	if s == "" {
		return 0, nil
	}
	multiplier := float64(1)
	units := []struct {
		suffix string
		mult   float64
	}{
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10}, {"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpeed, s)
	}
	bps := value * multiplier
	if bps >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidSpeed, s)
	}
	return int64(bps), nil
}

// includes logger
func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing URL for entry %d", i+1)
		}
		if entry.Limit != "" {
			if _, err := ParseSpeed(entry.Limit); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}

// PartFilePath names the part file for worker index next to outputPath.
func PartFilePath(outputPath string, index int) string {
	return filepath.Join(filepath.Dir(outputPath), fmt.Sprintf("%s%s%d", filepath.Base(outputPath), PartSuffix, index))
}

func MergeFilePath(outputPath string) string {
	return outputPath + MergeSuffix
}

// PartIndex extracts the worker index from a part file name.
func PartIndex(path string) (int, error) {
	matches := PartIndexRegex.FindStringSubmatch(path)
	if len(matches) < 2 {
		return -1, fmt.Errorf("could not extract part index from %s", path)
	}
	return strconv.Atoi(matches[1])
}

// FindPartFiles lists leftover part files and the merge file belonging to
// outputPath, part files first in index order.
func FindPartFiles(outputPath string) ([]string, error) {
	dir := filepath.Dir(outputPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	partPrefix := filepath.Base(outputPath) + PartSuffix
	mergeName := filepath.Base(MergeFilePath(outputPath))
	var parts []string
	var merge []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, partPrefix):
			if _, err := PartIndex(name); err == nil {
				parts = append(parts, filepath.Join(dir, name))
			}
		case name == mergeName:
			merge = append(merge, filepath.Join(dir, name))
		}
	}
	sort.Slice(parts, func(i, j int) bool {
		a, _ := PartIndex(parts[i])
		b, _ := PartIndex(parts[j])
		return a < b
	})
	return append(parts, merge...), nil
}

// CleanParts removes stray artifacts left by a crashed run for outputPath.
func CleanParts(outputPath string) (int, error) {
	log := GetLogger("clean")
	files, err := FindPartFiles(outputPath)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		log.Debug().Str("file", file).Msg("Removed stray file")
		removed++
	}
	return removed, nil
}

// CleanDir removes every stray part and merge file found in dir.
func CleanDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		var base string
		if loc := PartIndexRegex.FindStringIndex(name); loc != nil {
			base = name[:loc[0]]
		} else if strings.HasSuffix(name, MergeSuffix) {
			base = strings.TrimSuffix(name, MergeSuffix)
		} else {
			continue
		}
		if seen[base] {
			continue
		}
		seen[base] = true
		n, err := CleanParts(filepath.Join(dir, base))
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}
