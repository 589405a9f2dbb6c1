package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/accessnode/accessnode-go/pkg/firmware"
)

// pack writes an image for the payload at in to out.
func pack(in, version, out string) (firmware.Header, error) {
	payload, err := os.ReadFile(in)
	if err != nil {
		return firmware.Header{}, fmt.Errorf("read payload: %w", err)
	}
	img, err := firmware.Build(version, payload)
	if err != nil {
		return firmware.Header{}, err
	}
	if err := os.WriteFile(out, img, 0o644); err != nil {
		return firmware.Header{}, fmt.Errorf("write image: %w", err)
	}
	return firmware.ParseHeader(img)
}

// inspect streams the image at path through a Verifier and reports the
// header and verification result on w.
func inspect(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	v := firmware.NewVerifier()
	if _, err := io.Copy(v, f); err != nil {
		return err
	}
	if h := v.Header(); h != nil {
		printHeader(w, *h)
	}
	if err := v.Verify(); err != nil {
		fmt.Fprintln(w, "Digest:  MISMATCH")
		return err
	}
	fmt.Fprintln(w, "Digest:  OK")
	return nil
}

func printHeader(w io.Writer, h firmware.Header) {
	fmt.Fprintf(w, "Version: %s\n", h.Version)
	fmt.Fprintf(w, "Payload: %d bytes\n", h.PayloadSize)
	fmt.Fprintf(w, "Image:   %d bytes\n", h.ImageSize())
	fmt.Fprintf(w, "BLAKE2b: %s\n", hex.EncodeToString(h.Digest[:]))
}
