package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type memoryBucket struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	fail         error
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (b *memoryBucket) UploadFile(_ context.Context, key, contentType string, body io.Reader) error {
	if b.fail != nil {
		return b.fail
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.contentTypes[key] = contentType
	return nil
}

func (b *memoryBucket) DeleteFile(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memoryBucket) GetPublicURL(key string) string {
	return "https://storage.test/bucket/" + key
}

func (b *memoryBucket) Close() error { return nil }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStoreImageWithThumbnail(t *testing.T) {
	bucket := newMemoryBucket()
	svc := NewAttachmentService(logger.NewNop(), bucket)
	roomID := uuid.New()

	att, msgType, err := svc.Store(context.Background(), roomID, "../../living room.png", bytes.NewReader(pngBytes(t, 800, 400)))
	require.NoError(t, err)

	assert.Equal(t, types.MessageImage, msgType)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, "living room.png", att.Name)
	assert.True(t, strings.HasPrefix(att.URL, "https://storage.test/bucket/chat_attachments/"+roomID.String()+"/"))
	assert.True(t, strings.HasSuffix(att.ThumbnailURL, "_thumb.jpg"))
	assert.Len(t, bucket.objects, 2)

	for key, data := range bucket.objects {
		if !strings.HasSuffix(key, "_thumb.jpg") {
			continue
		}
		assert.Equal(t, "image/jpeg", bucket.contentTypes[key])
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, thumbnailSize, cfg.Width)
		assert.Equal(t, thumbnailSize/2, cfg.Height)
	}
}

func TestStoreDocument(t *testing.T) {
	bucket := newMemoryBucket()
	svc := NewAttachmentService(logger.NewNop(), bucket)

	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	att, msgType, err := svc.Store(context.Background(), uuid.New(), "quote", bytes.NewReader(pdf))
	require.NoError(t, err)
	assert.Equal(t, types.MessageFile, msgType)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, "quote.pdf", att.Name)
	assert.Empty(t, att.ThumbnailURL)
	assert.EqualValues(t, len(pdf), att.Size)

	_, msgType, err = svc.Store(context.Background(), uuid.New(), "notes.txt", strings.NewReader("bring the piano"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageFile, msgType)
}

func TestStoreRejects(t *testing.T) {
	bucket := newMemoryBucket()
	svc := NewAttachmentService(logger.NewNop(), bucket)
	ctx := context.Background()

	_, _, err := svc.Store(ctx, uuid.New(), "empty.txt", bytes.NewReader(nil))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))

	elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 64)...)
	_, _, err = svc.Store(ctx, uuid.New(), "tool", bytes.NewReader(elf))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))

	_, _, err = svc.Store(ctx, uuid.New(), "big.txt", bytes.NewReader(bytes.Repeat([]byte("a"), MaxAttachmentSize+1)))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
	assert.Empty(t, bucket.objects)

	bucket.fail = errors.New("bucket offline")
	_, _, err = svc.Store(ctx, uuid.New(), "notes.txt", strings.NewReader("hello"))
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
}

func TestDiscardRemovesStoredObjects(t *testing.T) {
	bucket := newMemoryBucket()
	svc := NewAttachmentService(logger.NewNop(), bucket)

	att, _, err := svc.Store(context.Background(), uuid.New(), "photo.png", bytes.NewReader(pngBytes(t, 64, 64)))
	require.NoError(t, err)
	require.Len(t, bucket.objects, 2)
	assert.NotEmpty(t, att.Key)
	assert.NotEmpty(t, att.ThumbnailKey)

	svc.Discard(context.Background(), att)
	assert.Empty(t, bucket.objects)
	svc.Discard(context.Background(), nil)
}
