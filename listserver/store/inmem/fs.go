package inmem

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeWithBackup replaces the contents of file with data. The old file is
// copied to a '.bak' file next to it first, and the backup is removed once the
// write succeeds.
func writeWithBackup(file string, data []byte) error {
	buFile, err := createFileBackup(file)
	if err != nil {
		if os.IsNotExist(err) {
			// nothing to back up; make sure we don't delete anything later
			buFile = ""
		} else {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	wf, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	w := bufio.NewWriter(wf)

	if _, err := w.Write(data); err != nil {
		wf.Close()
		return fmt.Errorf("write data file: %w", err)
	}
	if err := w.Flush(); err != nil {
		wf.Close()
		return fmt.Errorf("write data file: %w", err)
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("close data file: %w", err)
	}

	if buFile != "" {
		os.Remove(buFile)
	}
	return nil
}

// createFileBackup makes a duplicate of file in the same location with '.bak'
// appended to its filename. Any existing backup is overwritten.
//
// returns path to new backup file and any error that occurred.
func createFileBackup(file string) (string, error) {
	backupDir := filepath.Dir(file)
	backupName := filepath.Base(file) + ".bak"

	buPath := filepath.Join(backupDir, backupName)

	rf, err := os.Open(file)
	if err != nil {
		return buPath, err
	}
	defer rf.Close()
	wf, err := os.Create(buPath)
	if err != nil {
		return buPath, fmt.Errorf("create backup: %w", err)
	}
	defer wf.Close()

	r := bufio.NewReader(rf)
	w := bufio.NewWriter(wf)

	if _, err := io.Copy(w, r); err != nil {
		return buPath, fmt.Errorf("copy data to backup: %w", err)
	}
	if err := w.Flush(); err != nil {
		return buPath, fmt.Errorf("copy data to backup: %w", err)
	}

	return buPath, nil
}
