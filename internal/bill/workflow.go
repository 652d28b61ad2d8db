package bill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/zombor/medbill-tracker/internal/locale"
	"github.com/zombor/medbill-tracker/internal/scanning"
)

// State is a step of the capture workflow
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateExtracting State = "extracting"
	StateReviewing  State = "reviewing"
	StateCommitting State = "committing"
	StateCancelled  State = "cancelled"
)

// Notice codes
const (
	NoticeExtractionFailed    = "extraction_failed"
	NoticeExtractionSucceeded = "extraction_succeeded"
)

// Image is what the capture collaborator produces
type Image struct {
	Data        []byte
	ContentType string
}

// ImageSource is a capture device. Capture returns ErrCaptureClosed when the
// user closes it without taking a picture. Close releases the device and is
// always called once the workflow is done with it.
type ImageSource interface {
	Capture(ctx context.Context) (Image, error)
	Close() error
}

// Notice is a non-blocking message shown alongside the draft
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// View is a snapshot of the workflow for clients
type View struct {
	State  State   `json:"state"`
	Busy   bool    `json:"busy"`
	Draft  *Draft  `json:"draft,omitempty"`
	Notice *Notice `json:"notice,omitempty"`
}

// Workflow drives scan → extract → review → commit. One draft value is
// threaded through the states; only Commit touches the Store.
type Workflow struct {
	mu          sync.Mutex
	state       State
	draft       Draft
	notice      *Notice
	store       *Store
	editor      *Editor
	extractor   scanning.Extractor
	storage     Storage
	messages    Translator
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewWorkflow creates an idle Workflow. extractor and storage may be nil;
// without an extractor every capture degrades to manual entry.
func NewWorkflow(store *Store, editor *Editor, extractor scanning.Extractor, storage Storage, messages Translator) *Workflow {
	return NewWorkflowWithDeps(store, editor, extractor, storage, messages, &uuidGenerator{}, &defaultTimeSource{})
}

// NewWorkflowWithDeps creates a Workflow with custom dependencies for testing
func NewWorkflowWithDeps(store *Store, editor *Editor, extractor scanning.Extractor, storage Storage, messages Translator, idGen IDGenerator, timeSrc TimeSource) *Workflow {
	return &Workflow{
		state:       StateIdle,
		store:       store,
		editor:      editor,
		extractor:   extractor,
		storage:     storage,
		messages:    messages,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// View returns the current state, and the draft while reviewing
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{State: w.state, Busy: w.state == StateExtracting}
	if w.state == StateReviewing {
		draft := w.draft
		v.Draft = &draft
	}
	if w.notice != nil {
		notice := *w.notice
		v.Notice = &notice
	}
	return v
}

// StartCapture opens the capture surface
func (w *Workflow) StartCapture() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.expect("start capture", StateIdle); err != nil {
		return err
	}
	w.setState(StateCapturing)
	return nil
}

// StartManual opens an empty draft without a photo
func (w *Workflow) StartManual() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.expect("start manual entry", StateIdle); err != nil {
		return err
	}
	w.draft = w.editor.NewDraft(nil)
	w.notice = nil
	w.setState(StateReviewing)
	return nil
}

// SubmitImage hands a captured image to the extraction service and moves to
// reviewing. Extraction failures are not returned: the draft starts empty
// and a notice asks for manual entry. Cancelling ctx does not reach the
// extraction call once issued.
func (w *Workflow) SubmitImage(ctx context.Context, img Image) error {
	w.mu.Lock()
	if err := w.expect("submit image", StateCapturing); err != nil {
		w.mu.Unlock()
		return err
	}
	w.notice = nil
	w.setState(StateExtracting)
	w.mu.Unlock()

	// The extracting state blocks every other transition, so the lock is not
	// held across the slow call.
	imageFile := w.saveImage(img)
	data, err := w.extract(context.WithoutCancel(ctx), img)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		slog.Warn("Bill extraction failed, falling back to manual entry",
			"content_type", img.ContentType,
			"file_size", len(img.Data),
			"error", err,
		)
		w.draft = w.editor.NewDraft(nil)
		w.notice = &Notice{Code: NoticeExtractionFailed, Message: w.messages.T(locale.MsgExtractionFailed)}
	} else {
		w.draft = w.editor.NewDraft(data)
		w.notice = &Notice{Code: NoticeExtractionSucceeded, Message: w.messages.T(locale.MsgExtractionSucceeded)}
	}
	w.draft.ImageFile = imageFile
	w.setState(StateReviewing)
	return nil
}

// Capture runs one capture from src: it opens the capture surface, waits for
// an image and submits it. src is closed in every case. A source closed by
// the user returns the workflow to idle without error.
func (w *Workflow) Capture(ctx context.Context, src ImageSource) error {
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("Failed to release capture source", "error", err)
		}
	}()

	if err := w.StartCapture(); err != nil {
		return err
	}

	img, err := src.Capture(ctx)
	if err != nil {
		w.abortCapture()
		if errors.Is(err, ErrCaptureClosed) {
			return nil
		}
		return fmt.Errorf("capturing image: %w", err)
	}

	return w.SubmitImage(ctx, img)
}

// UpdateDraft replaces the fields the user can edit. Changing the forwarded
// flag stamps or clears its date exactly like SetForwarded.
func (w *Workflow) UpdateDraft(d Draft) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.expect("update draft", StateReviewing); err != nil {
		return err
	}

	d.ImageFile = w.draft.ImageFile
	switch {
	case d.ForwardedToDkv != w.draft.ForwardedToDkv:
		d.SetForwarded(d.ForwardedToDkv, today(w.timeSource))
	case !d.ForwardedToDkv:
		d.ForwardedDate = ""
	}
	w.draft = d
	return nil
}

// SetForwarded ticks or clears the forwarded checkbox of the draft
func (w *Workflow) SetForwarded(on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.expect("set forwarded", StateReviewing); err != nil {
		return err
	}
	w.draft.SetForwarded(on, today(w.timeSource))
	return nil
}

// Commit validates the draft and stores it. A *ValidationError leaves the
// workflow in reviewing with the draft untouched.
func (w *Workflow) Commit() (Bill, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.expect("commit", StateReviewing); err != nil {
		return Bill{}, err
	}

	b, err := w.editor.Finalize(w.draft)
	if err != nil {
		return Bill{}, err
	}

	w.setState(StateCommitting)
	saved, err := w.store.Commit(b)
	if err != nil {
		w.setState(StateReviewing)
		return Bill{}, fmt.Errorf("committing bill: %w", err)
	}

	w.reset()
	return saved, nil
}

// Cancel discards the current capture or draft. It is not allowed while
// the extraction call is in flight.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.expect("cancel", StateCapturing, StateReviewing); err != nil {
		return err
	}

	if w.state == StateReviewing {
		w.setState(StateCancelled)
		w.deleteImage(w.draft.ImageFile)
	}
	w.reset()
	return nil
}

func (w *Workflow) abortCapture() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateCapturing {
		w.reset()
	}
}

func (w *Workflow) extract(ctx context.Context, img Image) (*scanning.BillData, error) {
	if w.extractor == nil {
		return nil, errors.New("no extraction service configured")
	}
	return w.extractor.ExtractBill(ctx, img.Data, img.ContentType)
}

// saveImage keeps the scan for the bill; failures only cost the attachment
func (w *Workflow) saveImage(img Image) string {
	if w.storage == nil || len(img.Data) == 0 {
		return ""
	}
	name := w.idGenerator.Generate() + imageExtension(img.ContentType)
	saved, err := w.storage.Save(name, img.Data)
	if err != nil {
		slog.Warn("Failed to store captured image", "filename", name, "error", err)
		return ""
	}
	return saved
}

func (w *Workflow) deleteImage(name string) {
	if name == "" || w.storage == nil {
		return
	}
	if err := w.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete discarded image", "filename", name, "error", err)
	}
}

func (w *Workflow) reset() {
	w.draft = Draft{}
	w.notice = nil
	w.setState(StateIdle)
}

// expect must be called with the lock held
func (w *Workflow) expect(op string, allowed ...State) error {
	if slices.Contains(allowed, w.state) {
		return nil
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, w.state)
}

func (w *Workflow) setState(next State) {
	slog.Debug("Workflow transition", "from", w.state, "to", next)
	w.state = next
}

func imageExtension(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "heic"):
		return ".heic"
	case strings.Contains(contentType, "heif"):
		return ".heif"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	}
	return ".bin"
}
