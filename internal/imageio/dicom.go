package imageio

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

var ErrNoPixelData = errors.New("dicom file has no pixel data")

func openDICOM(path string) (*Image, error) {
	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dicom %s: %w", path, err)
	}

	pixelData, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPixelData, err)
	}

	if pixelData.Value == nil {
		return nil, ErrNoPixelData
	}
	info, ok := pixelData.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || info.IntentionallySkipped || len(info.Frames) == 0 || info.Frames[0] == nil {
		return nil, ErrNoPixelData
	}
	if info.ParseErr != nil {
		return nil, fmt.Errorf("failed to parse dicom pixel data: %w", info.ParseErr)
	}

	frame := info.Frames[0]
	src, err := frame.GetImage()
	if err != nil {
		return nil, fmt.Errorf("failed to read dicom frame: %w", err)
	}

	img := &Image{
		Path:   path,
		Format: "dicom",
		Tensor: ToTensor(src, true),
		Source: src,
	}

	for _, elem := range dataset.Elements {
		if elem.Tag == tag.PixelData {
			continue
		}

		name := "Unknown"
		if ti, err := tag.Find(elem.Tag); err == nil {
			name = ti.Name
		}
		value := ""
		if elem.Value != nil {
			value = elem.Value.String()
		}
		img.Metadata = append(img.Metadata, MetadataField{
			Tag:   elem.Tag.String(),
			VR:    elem.RawValueRepresentation,
			Name:  name,
			Value: value,
		})
	}

	return img, nil
}
