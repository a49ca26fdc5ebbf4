package storyboard

import "errors"

var (
	// ErrMediaRead: the uploaded file cannot be read. Blocks analysis.
	ErrMediaRead = errors.New("media read failed")
	// ErrAnalysis: the analysis call failed or returned unparseable output.
	ErrAnalysis = errors.New("analysis failed")
	// ErrImageGeneration is localized to one scene.
	ErrImageGeneration = errors.New("image generation failed")
	// ErrMediaDecode is fatal to the playback or export that hit it.
	ErrMediaDecode = errors.New("media decode failed")
	// ErrExport aborts one export job only.
	ErrExport = errors.New("export failed")
	// ErrExportCancelled is user-initiated and produces no file.
	ErrExportCancelled = errors.New("export cancelled")

	ErrNoSession         = errors.New("no session")
	ErrSceneNotFound     = errors.New("scene not found")
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrJobRunning        = errors.New("an export is already running")
)
