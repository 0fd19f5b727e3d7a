package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tintbook/internal/models"
	"tintbook/internal/slots"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Расписание"

const (
	colorHeader  = "#DDEBF7"
	colorStaff   = "#E2EFDA"
	colorTaken   = "#FFC7CE"
	colorBooked  = "#FFEB9C"
	colorCleared = "#BFBFBF"
)

// DaySchedule renders a staff x slot grid for one date. Rows are staff,
// columns are grid slots. A cell is filled when the slot is taken and
// carries the customer name when an appointment covers it.
func DaySchedule(codec *slots.Codec, date string, records []models.SlotRecordView, appts []*models.Appointment) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	grid := codec.Grid()
	lastCol, _ := excelize.ColumnNumberToName(len(grid) + 1)

	_ = f.SetCellValue(SheetName, "A1", fmt.Sprintf("Расписание на %s", date))
	_ = f.MergeCell(SheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(SheetName, "A1", "A1", titleStyle)

	_ = f.SetColWidth(SheetName, "A", "A", 20)
	_ = f.SetColWidth(SheetName, "B", lastCol, 12)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{colorHeader}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellValue(SheetName, "A2", "Мастер")
	for i, t := range grid {
		cell, _ := excelize.CoordinatesToCellName(i+2, 2)
		_ = f.SetCellValue(SheetName, cell, slots.Pad(t))
	}
	_ = f.SetCellStyle(SheetName, "A2", lastCol+"2", headerStyle)

	staffStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorStaff}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	takenStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorTaken}, Pattern: 1},
	})
	bookedStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{colorBooked}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	clearedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorCleared}, Pattern: 1},
	})

	columns := make(map[string]int, len(grid))
	for i, t := range grid {
		columns[slots.Pad(t)] = i + 2
	}
	owners := customersBySlot(codec, appts)

	for i, rec := range records {
		row := i + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(SheetName, cell, rec.StaffID)
		_ = f.SetCellStyle(SheetName, cell, cell, staffStyle)

		if rec.ClearedOut {
			first, _ := excelize.CoordinatesToCellName(2, row)
			last, _ := excelize.CoordinatesToCellName(len(grid)+1, row)
			_ = f.SetCellValue(SheetName, first, "Закрыто")
			_ = f.SetCellStyle(SheetName, first, last, clearedStyle)
			continue
		}

		for _, t := range rec.Taken {
			col, ok := columns[slots.Pad(t)]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col, row)
			if name, ok := owners[rec.StaffID][slots.Pad(t)]; ok {
				_ = f.SetCellValue(SheetName, cell, name)
				_ = f.SetCellStyle(SheetName, cell, cell, bookedStyle)
				continue
			}
			_ = f.SetCellStyle(SheetName, cell, cell, takenStyle)
		}
	}

	if len(records) == 0 {
		_ = f.SetCellValue(SheetName, "A3", "Нет мастеров")
	}
	return f, nil
}

// WriteDaySchedule streams the workbook as xlsx.
func WriteDaySchedule(w io.Writer, codec *slots.Codec, date string, records []models.SlotRecordView, appts []*models.Appointment) error {
	f, err := DaySchedule(codec, date, records, appts)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// SaveDaySchedule writes <dir>/schedule_<date>.xlsx and returns its path.
func SaveDaySchedule(dir string, codec *slots.Codec, date string, records []models.SlotRecordView, appts []*models.Appointment) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	f, err := DaySchedule(codec, date, records, appts)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("schedule_%s.xlsx", date))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save xlsx: %w", err)
	}
	return path, nil
}

// customersBySlot maps staff -> padded slot -> customer label of active appointments.
func customersBySlot(codec *slots.Codec, appts []*models.Appointment) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, a := range appts {
		if !a.IsActive() {
			continue
		}
		window, err := codec.GridWindow(a.StartTime, a.DurationHours)
		if err != nil {
			continue
		}
		byStaff, ok := out[a.StaffID]
		if !ok {
			byStaff = make(map[string]string)
			out[a.StaffID] = byStaff
		}
		label := a.CustomerName
		if a.CustomerPhone != "" {
			label += "\n" + a.CustomerPhone
		}
		for _, t := range window {
			byStaff[slots.Pad(t)] = label
		}
	}
	return out
}
