/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats a byte count in binary units, e.g. 1.0 MiB.
func humanReadableSize(bytes int64) string {
	const unit = 1024

	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	size := float64(bytes)
	suffix := 0
	for size >= unit && suffix < len("KMGTPE") {
		size /= unit
		suffix++
	}

	return fmt.Sprintf("%.1f %ciB", size, "KMGTPE"[suffix-1])
}
