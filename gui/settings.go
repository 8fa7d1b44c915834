//go:build gui

package gui

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"mimir/config"
)

// showSettings opens a form generated from the settings schema. Saving
// replaces the whole document; validation failures keep the dialog open.
func (a *App) showSettings() {
	h := a.getHandlers()
	if h.Snapshot == nil || h.SaveSettings == nil {
		return
	}
	current := h.Snapshot()

	fyne.Do(func() {
		type reader struct {
			key  string
			read func() (any, error)
		}
		var readers []reader
		var items []*widget.FormItem

		for _, f := range config.Schema {
			f := f
			switch {
			case f.Kind == config.KindBool:
				check := widget.NewCheck("", nil)
				if v, ok := current[f.Key].(bool); ok {
					check.SetChecked(v)
				}
				items = append(items, widget.NewFormItem(f.Key, check))
				readers = append(readers, reader{f.Key, func() (any, error) {
					return check.Checked, nil
				}})

			case len(f.Enum) > 0:
				sel := widget.NewSelect(f.Enum, nil)
				if v, ok := current[f.Key].(string); ok {
					sel.SetSelected(v)
				}
				items = append(items, widget.NewFormItem(f.Key, sel))
				readers = append(readers, reader{f.Key, func() (any, error) {
					return sel.Selected, nil
				}})

			case f.Kind == config.KindInt:
				entry := widget.NewEntry()
				if v, ok := current[f.Key].(int); ok {
					entry.SetText(strconv.Itoa(v))
				}
				items = append(items, widget.NewFormItem(f.Key, entry))
				readers = append(readers, reader{f.Key, func() (any, error) {
					n, err := strconv.Atoi(strings.TrimSpace(entry.Text))
					if err != nil {
						return nil, fmt.Errorf("%s: not a whole number", f.Key)
					}
					return n, nil
				}})

			case f.Kind == config.KindFloat:
				entry := widget.NewEntry()
				if v, ok := current[f.Key].(float64); ok {
					entry.SetText(strconv.FormatFloat(v, 'g', -1, 64))
				}
				items = append(items, widget.NewFormItem(f.Key, entry))
				readers = append(readers, reader{f.Key, func() (any, error) {
					n, err := strconv.ParseFloat(strings.TrimSpace(entry.Text), 64)
					if err != nil {
						return nil, fmt.Errorf("%s: not a number", f.Key)
					}
					return n, nil
				}})

			default:
				entry := widget.NewEntry()
				if v, ok := current[f.Key].(string); ok {
					entry.SetText(v)
				}
				items = append(items, widget.NewFormItem(f.Key, entry))
				readers = append(readers, reader{f.Key, func() (any, error) {
					return entry.Text, nil
				}})
			}
			items[len(items)-1].HintText = f.Description
		}

		form := widget.NewForm(items...)
		scroll := container.NewVScroll(form)
		scroll.SetMinSize(fyne.NewSize(460, 480))

		d := dialog.NewCustomConfirm("Settings", "Save", "Cancel", scroll,
			func(save bool) {
				if !save {
					return
				}
				doc := make(map[string]any, len(readers))
				for _, r := range readers {
					v, err := r.read()
					if err != nil {
						dialog.ShowError(err, a.window)
						return
					}
					doc[r.key] = v
				}
				if err := h.SaveSettings(doc); err != nil {
					dialog.ShowError(err, a.window)
				}
			}, a.window)
		d.Show()
	})
}
