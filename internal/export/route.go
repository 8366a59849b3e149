package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"fieldtrack/internal/core"
)

const (
	routeSheet   = "Route"
	summarySheet = "Summary"

	// ContentType is the MIME type of the workbook written by WriteRoute.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var routeColumns = []struct {
	header string
	width  float64
}{
	{"#", 6},
	{"Recorded At", 22},
	{"Latitude", 12},
	{"Longitude", 12},
	{"Accuracy (m)", 13},
	{"Address", 40},
	{"Tracking", 10},
	{"Segment (km)", 13},
	{"Cumulative (km)", 16},
}

// Filename is the attachment name used for a route workbook.
func Filename(route *core.Route) string {
	return fmt.Sprintf("route_%s_%s.xlsx", route.AssignmentID, route.UserID)
}

// WriteRoute streams a workbook with one row per route point and a summary sheet.
// Segment distances use the same rounding as the route total, so the last
// cumulative value equals route.TotalDistanceKm.
func WriteRoute(w io.Writer, route *core.Route, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", routeSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := writePoints(f, route, loc, headerStyle); err != nil {
		return fmt.Errorf("write route sheet: %w", err)
	}
	if err := writeSummary(f, route, loc, headerStyle); err != nil {
		return fmt.Errorf("write summary sheet: %w", err)
	}
	return f.Write(w)
}

func writePoints(f *excelize.File, route *core.Route, loc *time.Location, headerStyle int) error {
	sw, err := f.NewStreamWriter(routeSheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(routeColumns))
	for i, col := range routeColumns {
		header[i] = excelize.Cell{Value: col.header, StyleID: headerStyle}
		if err := sw.SetColWidth(i+1, i+1, col.width); err != nil {
			return err
		}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	cumulative := 0.0
	for i, p := range route.Points {
		segment := 0.0
		if i > 0 {
			segment = core.RoundKm(core.HaversineKm(route.Points[i-1].Point(), p.Point()))
		}
		cumulative = core.RoundKm(cumulative + segment)

		var accuracy, address interface{}
		if p.Accuracy != nil {
			accuracy = *p.Accuracy
		}
		if p.Address != nil {
			address = *p.Address
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			i + 1,
			p.RecordedAt.In(loc).Format(time.RFC3339),
			p.Latitude,
			p.Longitude,
			accuracy,
			address,
			string(p.TrackingStatus),
			segment,
			cumulative,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writeSummary(f *excelize.File, route *core.Route, loc *time.Location, headerStyle int) error {
	sw, err := f.NewStreamWriter(summarySheet)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, 1, 20); err != nil {
		return err
	}
	if err := sw.SetColWidth(2, 2, 40); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Assignment", route.AssignmentID},
		{"User", route.UserID},
		{"Total Points", route.TotalPoints},
		{"Total Distance (km)", route.TotalDistanceKm},
		{"Start Time", formatOptional(route.StartTime, loc)},
		{"End Time", formatOptional(route.EndTime, loc)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		row[0] = excelize.Cell{Value: row[0], StyleID: headerStyle}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func formatOptional(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}
