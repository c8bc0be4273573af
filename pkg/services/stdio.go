package services

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FilterErrorLines copies only the lines that look like errors from r to w,
// each one prefixed. A line qualifies when its lowercase form contains
// "error". Used to keep quiet-mode children quiet without losing failures.
func FilterErrorLines(r io.Reader, w io.Writer, prefix string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), "error") {
			fmt.Fprintf(w, "%s%s\n", prefix, line)
		}
	}
	return scanner.Err()
}
