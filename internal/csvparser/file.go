package csvparser

import (
	"os"
)

func ParseFile(path string, maxRows int) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseSubscribers(f, maxRows)
}
