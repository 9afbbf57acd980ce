package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdai-labs/pdai/internal/dataset"
	"github.com/pdai-labs/pdai/internal/dispatch"
	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"
	"github.com/pdai-labs/pdai/internal/services/fetcher"
	"github.com/pdai-labs/pdai/internal/session"
	"github.com/pdai-labs/pdai/internal/theme"
	"github.com/pdai-labs/pdai/internal/utils/pathutil"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const modelHint = "Try running `uaim` first."

// handle runs inv. Expected failures are reported inline and swallowed;
// anything returned is unexpected.
func (r *REPL) handle(ctx context.Context, inv dispatch.Invocation) error {
	switch inv.Command {
	case dispatch.CmdHelp:
		r.println(renderHelp())
	case dispatch.CmdLoadImage:
		r.loadImage(true)
	case dispatch.CmdAutoPredict:
		if r.loadImage(false) {
			return r.predict(ctx, true)
		}
	case dispatch.CmdPredict:
		return r.predict(ctx, false)
	case dispatch.CmdAddToDataset:
		return r.addToDataset()
	case dispatch.CmdTrain:
		return r.train(ctx, inv.Args)
	case dispatch.CmdReload:
		return r.reload(ctx)
	case dispatch.CmdUpdateModel:
		return r.update(ctx)
	case dispatch.CmdUpload:
		r.warnf("%v.", r.s.Upload())
	case dispatch.CmdHistory:
		return r.history(ctx, inv.Args)
	case dispatch.CmdDebug:
		if r.s.ToggleDebug() {
			r.println(theme.Warning.Render("Debug mode enabled."))
		} else {
			r.println("Debug mode disabled.")
		}
	case dispatch.CmdClear:
		fmt.Fprint(r.out, "\033[H\033[2J")
		r.println(theme.Banner(Title))
	default:
		return fmt.Errorf("no handler for %s", inv.Command)
	}
	return nil
}

func (r *REPL) loadImage(withLabel bool) bool {
	if r.s.Image() != nil && !r.confirm("An image is already loaded. Replace it?") {
		return false
	}

	raw, ok := r.ask("Enter the image path: ")
	if !ok {
		return false
	}
	path := pathutil.CleanInput(raw)

	img, err := r.s.LoadImage(path)
	switch {
	case errors.Is(err, imageio.ErrNotFound):
		r.errorf("Invalid file dir. Try again.")
		return false
	case errors.Is(err, imageio.ErrUnsupportedFormat):
		r.errorf("Invalid file format. Supported formats: %s.", strings.Join(imageio.SupportedExtensions, ", "))
		return false
	case err != nil:
		r.errorf("Failed to load the image: %v", err)
		return false
	}
	r.println(theme.Success.Render("Image loaded."))

	if img.IsDICOM() && r.s.Debug() {
		for _, f := range img.Metadata {
			r.println(theme.Muted.Render(f.String()))
		}
	}

	if !withLabel {
		return true
	}

	for {
		answer, ok := r.ask("Enter the label ('0' for normal, '1' for pneumonia, '2' unknown): ")
		if !ok {
			return true
		}
		label, err := session.ParseLabel(answer)
		if err != nil {
			r.errorf("Invalid label. Try again.")
			continue
		}
		_ = r.s.SetLabel(label)
		if label != session.LabelUnknown {
			r.println(theme.Success.Render("The label is saved."))
		}
		return true
	}
}

func (r *REPL) predict(ctx context.Context, autoHeatmap bool) error {
	if r.s.Image() == nil {
		r.errorf("There is no image loaded. Use `liid` first.")
		return nil
	}

	r.println("Predicting the image...")
	pred, err := r.s.Predict(ctx, autoHeatmap)
	if errors.Is(err, model.ErrModelUnavailable) {
		r.errorf("Failed to load the model. %s", modelHint)
		return nil
	}
	if err != nil {
		return err
	}

	positive := pred.Class == model.ClassPneumonia
	r.println("Predicted: " + theme.ClassStyle(positive).Render(pred.Label))
	r.println(fmt.Sprintf("Confidence: %.2f%%", pred.Confidence*100))
	if pred.LowConfidence {
		r.warnf("The confidence is low (%.2f). The prediction may be wrong.", pred.Confidence)
	}

	if !positive {
		return nil
	}

	heatmap := pred.Heatmap
	if heatmap == nil && pred.HeatmapErr == nil && !autoHeatmap && r.confirm("Do you want to see the heatmap?") {
		heatmap, err = r.s.Heatmap(ctx)
		if err != nil {
			r.errorf("Failed to create the heatmap: %v", err)
			return nil
		}
	}
	if pred.HeatmapErr != nil {
		r.errorf("Failed to create the heatmap: %v", pred.HeatmapErr)
	}
	if heatmap != nil && heatmap.Path != "" {
		r.println("Heatmap saved to " + theme.Accent.Render(heatmap.Path))
	}
	return nil
}

func (r *REPL) addToDataset() error {
	label, hasLabel := r.s.Label()

	count, err := r.s.AddToDataset()
	switch {
	case errors.Is(err, session.ErrNoImage), errors.Is(err, session.ErrNoLabel):
		r.errorf("An image with a label doesn't exist.")
		return nil
	case errors.Is(err, dataset.ErrCorrupt):
		r.errorf("The dataset file is corrupt: %v", err)
		return nil
	case err != nil:
		return err
	}

	r.println(fmt.Sprintf("Dataset length: %d", count))
	if hasLabel {
		name := r.s.Models().Classes()[label]
		r.println("Saved label: " + theme.ClassStyle(label == model.ClassPneumonia).Render(name))
	}
	r.println(theme.Success.Render("The image and its label are saved."))
	return nil
}

func (r *REPL) train(ctx context.Context, args []string) error {
	r.println("Training the model...")
	res, err := r.s.Train(ctx, args)

	var short *session.NotEnoughSamplesError
	switch {
	case errors.As(err, &short):
		r.errorf("Dataset length is <= %d, add more data.", short.Min)
		return nil
	case errors.Is(err, session.ErrNoDataset):
		r.errorf("The dataset doesn't exist. Use `atmd` to add images.")
		return nil
	case errors.Is(err, dataset.ErrCorrupt):
		r.errorf("The dataset file is corrupt: %v", err)
		return nil
	case errors.Is(err, model.ErrModelUnavailable):
		r.errorf("Failed to load the model. %s", modelHint)
		return nil
	case errors.Is(err, model.ErrTrainingUnsupported):
		r.errorf("The installed model can't be trained.")
		return nil
	case err != nil:
		return err
	}

	if res.Warning != "" {
		r.println(theme.Warning.Render(res.Warning))
	}
	r.println(theme.Success.Render(fmt.Sprintf("Training done. %d samples, %d epochs, loss %.4f.", res.Samples, res.Epochs, res.Loss)))
	return nil
}

func (r *REPL) reload(ctx context.Context) error {
	r.println("Reloading the model...")
	if err := r.s.ReloadModel(ctx); err != nil {
		r.errorf("Failed to load the model. %s", modelHint)
		return nil
	}
	r.println(theme.Success.Render("Model loaded."))
	return nil
}

func (r *REPL) update(ctx context.Context) error {
	if err := r.s.CanUpdateModel(); err != nil {
		r.errorf("Cannot update a TF_dir model. Switch model_format to h5 to use `uaim`.")
		return nil
	}

	light := r.confirm("Do you want to download the light model?")
	asset := r.s.ModelAsset(light)

	r.println("Downloading " + asset + "...")
	err := r.s.UpdateModel(ctx, asset)

	var mismatch *fetcher.SizeMismatchError
	switch {
	case errors.As(err, &mismatch):
		r.errorf("Downloaded %d of %d bytes. The partial file was kept at %s.", mismatch.Got, mismatch.Expected, mismatch.Partial)
	case errors.Is(err, fetcher.ErrFeedUnavailable),
		errors.Is(err, fetcher.ErrAssetNotFound),
		errors.Is(err, fetcher.ErrDownloadFailed):
		r.errorf("Failed to download the model: %v", err)
	case errors.Is(err, model.ErrModelUnavailable):
		r.errorf("The model was downloaded but failed to load: %v", err)
	case err != nil:
		return err
	default:
		r.println(theme.Success.Render("Model updated."))
	}
	return nil
}

func (r *REPL) history(ctx context.Context, args []string) error {
	rows, err := r.s.History(ctx, r.s.HistoryLimit(args))
	if errors.Is(err, session.ErrHistoryDisabled) {
		r.errorf("Prediction history is not available.")
		return nil
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		r.println("No predictions yet.")
		return nil
	}

	body := make([][]string, 0, len(rows))
	for _, p := range rows {
		low := ""
		if p.LowConfidence {
			low = "low"
		}
		body = append(body, []string{
			p.CreatedAt.Local().Format("2006-01-02 15:04"),
			p.Label,
			strconv.FormatFloat(p.Confidence*100, 'f', 1, 64) + "%",
			low,
			p.SourcePath,
		})
	}

	r.println(renderTable(
		[]string{"When", "Class", "Confidence", "", "Image"},
		body,
		[]text.Align{text.AlignLeft, text.AlignLeft, text.AlignRight, text.AlignLeft, text.AlignLeft},
	))
	return nil
}

func renderHelp() string {
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedRounded)
	l.AppendItem("Commands")
	l.Indent()
	for _, c := range dispatch.All() {
		l.AppendItem(theme.Accent.Render(c.String()) + ": " + c.Description())
		if flags := c.Flags(); len(flags) > 0 {
			l.Indent()
			for _, f := range flags {
				l.AppendItem(f)
			}
			l.UnIndent()
		}
	}
	return l.Render()
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) {
			align = aligns[i]
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
