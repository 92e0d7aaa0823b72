package fileserver

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Cloudinary загружает вложения в папку Cloudinary.
type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinary(cloudName, apiKey, apiSecret, folder string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("initialize Cloudinary: %w", err)
	}
	return &Cloudinary{cld: cld, folder: folder}, nil
}

func (s *Cloudinary) Save(ctx context.Context, fileName string, size int64, r io.Reader) (*Attachment, error) {
	ext, display, full, err := inspect(fileName, r)
	if err != nil {
		return nil, err
	}
	res, err := s.cld.Upload.Upload(ctx, full, uploader.UploadParams{
		Folder:       s.folder,
		ResourceType: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("upload to Cloudinary: %w", err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("upload to Cloudinary: %s", res.Error.Message)
	}
	if size <= 0 {
		size = int64(res.Bytes)
	}
	return &Attachment{
		URL:         res.SecureURL,
		FileName:    display,
		FileSize:    size,
		ContentType: kind(ext),
	}, nil
}
