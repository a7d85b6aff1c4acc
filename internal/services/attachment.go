package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const (
	MaxAttachmentSize = 10 << 20
	thumbnailSize     = 320
)

var allowedFileTypes = []string{
	"application/pdf",
	"text/plain",
	"application/zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/msword",
	"application/vnd.ms-excel",
}

// AttachmentService stores uploaded files and describes them as message
// payloads. Images get a thumbnail next to the original.
type AttachmentService interface {
	Store(ctx context.Context, roomID uuid.UUID, filename string, body io.Reader) (*types.Attachment, types.MessageType, error)
	// Discard removes the stored objects of an attachment whose message
	// was never appended.
	Discard(ctx context.Context, att *types.Attachment)
}

type attachmentService struct {
	log    *logger.Logger
	bucket BucketService
}

func NewAttachmentService(log *logger.Logger, bucket BucketService) AttachmentService {
	return &attachmentService{log: log.With("service", "AttachmentService"), bucket: bucket}
}

func (as *attachmentService) Store(ctx context.Context, roomID uuid.UUID, filename string, body io.Reader) (*types.Attachment, types.MessageType, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxAttachmentSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading upload: %v", apperrors.ErrInvalidRequest, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", apperrors.ErrInvalidRequest)
	}
	if len(data) > MaxAttachmentSize {
		return nil, "", fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrInvalidRequest, MaxAttachmentSize)
	}

	mtype := mimetype.Detect(data)
	msgType := types.MessageFile
	if strings.HasPrefix(mtype.String(), "image/") {
		msgType = types.MessageImage
	} else if !mimetype.EqualsAny(mtype.String(), allowedFileTypes...) && !isTextFamily(mtype) {
		return nil, "", fmt.Errorf("%w: unsupported file type %s", apperrors.ErrInvalidRequest, mtype.String())
	}

	name := sanitizeFilename(filename)
	if filepath.Ext(name) == "" {
		name += mtype.Extension()
	}
	id := uuid.New()
	key := path.Join("chat_attachments", roomID.String(), id.String()+mtype.Extension())
	if err := as.bucket.UploadFile(ctx, key, mtype.String(), bytes.NewReader(data)); err != nil {
		return nil, "", fmt.Errorf("%w: uploading attachment: %v", apperrors.ErrPersistence, err)
	}

	att := &types.Attachment{
		URL:         as.bucket.GetPublicURL(key),
		Name:        name,
		ContentType: mtype.String(),
		Size:        int64(len(data)),
		Key:         key,
	}
	if msgType == types.MessageImage {
		thumbKey := path.Join("chat_attachments", roomID.String(), id.String()+"_thumb.jpg")
		if thumb, err := makeThumbnail(data); err != nil {
			as.log.Warn("Could not build thumbnail, sending original only", "key", key, "error", err)
		} else if err := as.bucket.UploadFile(ctx, thumbKey, "image/jpeg", bytes.NewReader(thumb)); err != nil {
			as.log.Warn("Failed to upload thumbnail", "key", thumbKey, "error", err)
		} else {
			att.ThumbnailURL = as.bucket.GetPublicURL(thumbKey)
			att.ThumbnailKey = thumbKey
		}
	}
	as.log.Info("Stored chat attachment", "roomID", roomID, "key", key, "contentType", att.ContentType, "size", att.Size)
	return att, msgType, nil
}

func (as *attachmentService) Discard(ctx context.Context, att *types.Attachment) {
	if att == nil {
		return
	}
	for _, key := range []string{att.Key, att.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := as.bucket.DeleteFile(ctx, key); err != nil {
			as.log.Warn("Failed to discard orphaned attachment", "key", key, "error", err)
		}
	}
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isTextFamily(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "attachment"
	}
	return name
}
