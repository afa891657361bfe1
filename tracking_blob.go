package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// blobObjects is the minimal object store the blob backend needs
type blobObjects interface {
	// Get returns ok=false when the object does not exist
	Get(ctx context.Context, name string) (data []byte, ok bool, err error)
	Put(ctx context.Context, name string, data []byte) error
}

// BlobBackend stores each period as a block blob, for runners without a persistent disk
type BlobBackend struct {
	objects blobObjects
	names   map[Period]string
}

func NewBlobBackend(objects blobObjects, currentBlob, priorBlob string) *BlobBackend {
	return &BlobBackend{
		objects: objects,
		names: map[Period]string{
			PeriodCurrent: currentBlob,
			PeriodPrior:   priorBlob,
		},
	}
}

func (b *BlobBackend) Read(ctx context.Context, period Period) ([]string, error) {
	data, ok, err := b.objects.Get(ctx, b.names[period])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return parseIDLines(bytes.NewReader(data))
}

// Append rewrites the blob with the new IDs added; block blobs have no append
func (b *BlobBackend) Append(ctx context.Context, period Period, ids []string) error {
	name := b.names[period]
	data, _, err := b.objects.Get(ctx, name)
	if err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return b.objects.Put(ctx, name, append(data, formatIDLines(ids)...))
}

func (b *BlobBackend) Replace(ctx context.Context, period Period, ids []string) error {
	return b.objects.Put(ctx, b.names[period], formatIDLines(ids))
}

// azureObjects implements blobObjects on an Azure Storage container
type azureObjects struct {
	client        *azblob.Client
	containerName string
	containerInit bool
	logger        *zap.Logger
}

// NewAzureTracker is a RollingTracker over two blobs in an Azure Storage container
func NewAzureTracker(connectionString string, settings TrackingSettings, logger *zap.Logger) (*RollingTracker, error) {
	objects, err := newAzureObjects(connectionString, settings.Container, logger)
	if err != nil {
		return nil, err
	}
	backend := NewBlobBackend(objects, settings.CurrentBlob, settings.PriorBlob)
	return NewRollingTracker(backend, logger), nil
}

func newAzureObjects(connectionString, containerName string, logger *zap.Logger) (*azureObjects, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}

	// Azurite and other local emulators are served over plain HTTP
	var opts *azblob.ClientOptions
	if strings.Contains(strings.ToLower(connectionString), "blobendpoint=http://") {
		opts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &azureObjects{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

func (a *azureObjects) Get(ctx context.Context, name string) ([]byte, bool, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, true, nil
}

func (a *azureObjects) Put(ctx context.Context, name string, data []byte) error {
	if err := a.ensureContainer(ctx); err != nil {
		return err
	}

	if _, err := a.client.UploadBuffer(ctx, a.containerName, name, data, nil); err != nil {
		a.logger.Error("Failed to upload tracking blob",
			zap.String("blob", name),
			zap.Int("size", len(data)),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}
	return nil
}

func (a *azureObjects) ensureContainer(ctx context.Context) error {
	if a.containerInit {
		return nil
	}
	_, err := a.client.CreateContainer(ctx, a.containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create container %s: %w", a.containerName, err)
	}
	a.containerInit = true
	return nil
}
