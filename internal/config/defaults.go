package config

import (
	"errors"
	"time"
)

const (
	DefaultPdaiHome = "~/.pdai"

	ModelFormatH5  = "H5_SF"
	ModelFormatDir = "TF_dir"

	DefaultFeedURL = "https://api.github.com/repos/Aydinhamedi/Pneumonia-Detection-Ai/releases/latest"

	DefaultModelName       = "PAI_model_T"
	DefaultModelAsset      = "PAI_model_T.h5"
	DefaultLightModelAsset = "PAI_model_light_T.h5"
	DefaultModelInfoAsset  = "model_info.json"

	DefaultChunkSize      = 1024
	DefaultCatalogTTL     = time.Hour
	DefaultFeedTimeout    = 30 * time.Second
	DefaultModelInfoAge   = 4 * time.Hour
	DefaultLowConfidence  = 0.82
	DefaultSensitivity    = 2
	DefaultTargetLayer    = "top_activation"
	DefaultSecondLayer    = "top_conv"
	DefaultEpochs         = 4
	DefaultMinSamples     = 15
	DefaultGUITick        = 100 * time.Millisecond
	DefaultInfoRefresh    = 15 * time.Second
	DefaultQueueCapacity  = 128
	DefaultHistoryLimit   = 10
	DefaultMainLogTopic   = "main_log"
	DefaultModelExtension = "FixedDropout"
)

var (
	ErrPdaiHomeNotSet       = errors.New("pdai home directory is not set")
	ErrPdaiHomeExpandFailed = errors.New("failed to expand pdai home directory")
	ErrInvalidModelFormat   = errors.New("invalid model format")
	ErrConfigNotLoaded      = errors.New("config not loaded")
)
