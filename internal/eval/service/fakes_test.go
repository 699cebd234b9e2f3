package service_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"evalhub/internal/common/mq"
	"evalhub/internal/common/storage"
	"evalhub/internal/eval/backend"
	"evalhub/internal/eval/model"
	appErr "evalhub/pkg/errors"
)

func newStringReader(s string) io.Reader { return strings.NewReader(s) }

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fakeSubmissionRepo struct {
	mu        sync.Mutex
	byID      map[string]*model.Submission
	createErr error
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{byID: map[string]*model.Submission{}}
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, sub *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byID[sub.ID]; ok {
		return appErr.New(appErr.SubmissionConflict)
	}
	f.byID[sub.ID] = sub
	return nil
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byID[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return sub, nil
}

func (f *fakeSubmissionRepo) ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []*model.Submission
	for _, sub := range f.byID {
		if sub.PrincipalID == principalID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

type fakeVerdictRepo struct {
	mu       sync.Mutex
	verdicts map[string]*model.Verdict
	saveErr  error
}

func newFakeVerdictRepo() *fakeVerdictRepo {
	return &fakeVerdictRepo{verdicts: map[string]*model.Verdict{}}
}

func (f *fakeVerdictRepo) Save(ctx context.Context, submissionID string, verdict *model.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.verdicts[submissionID]; ok {
		return nil
	}
	copied := *verdict
	f.verdicts[submissionID] = &copied
	return nil
}

func (f *fakeVerdictRepo) Get(ctx context.Context, submissionID string) (*model.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.verdicts[submissionID]
	if !ok {
		return nil, appErr.New(appErr.VerdictNotReady)
	}
	return v, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
	getErr  error
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string]string{}}
}

func (f *fakeStorage) key(bucket, objectKey string) string { return bucket + "/" + objectKey }

func (f *fakeStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[f.key(bucket, objectKey)] = string(data)
	return nil
}

func (f *fakeStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[f.key(bucket, objectKey)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectKey)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.key(bucket, objectKey)]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object %s not found", objectKey)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeProducer struct {
	mu         sync.Mutex
	published  []publishedMessage
	publishErr error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

// fakeAdapter returns queued results in order; each call consumes one.
type fakeAdapter struct {
	mu      sync.Mutex
	kind    model.BackendKind
	results []fakeResult
	calls   int
}

type fakeResult struct {
	verdict model.Verdict
	err     error
}

func (f *fakeAdapter) Kind() model.BackendKind { return f.kind }

func (f *fakeAdapter) Evaluate(ctx context.Context, req backend.Request) (model.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.results) {
		return model.Verdict{}, fmt.Errorf("no result queued for call %d", f.calls+1)
	}
	result := f.results[f.calls]
	f.calls++
	return result.verdict, result.err
}
