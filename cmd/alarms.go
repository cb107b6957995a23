package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/s0up4200/garminconnect/filter"
	"github.com/s0up4200/garminconnect/garmin"
)

var (
	alarmFilter string
	alarmOutput string
)

// alarmsCmd represents the alarms command
var alarmsCmd = &cobra.Command{
	Use:   "alarms",
	Short: "List alarms from every registered device",
	Long: `List the alarms configured on all devices registered to the account.

Filter expressions see each alarm's fields (alarmTime, alarmMode, alarmDays, ...)
plus helpers:
  isOn()          alarm mode is ON
  onDay("mon")    alarm repeats on the given day
  timeOfDay()     alarm time as HH:MM
  clock(h, m)     minutes after midnight, comparable with alarmTime
  has("field")    the alarm carries the field

Example:
  garminconnect alarms --filter 'isOn() and alarmTime < clock(7, 0)'`,
	RunE: runAlarms,
}

func init() {
	rootCmd.AddCommand(alarmsCmd)

	alarmsCmd.Flags().StringVarP(&alarmFilter, "filter", "f", "", "filter expression (default from alarms.filter)")
	alarmsCmd.Flags().StringVarP(&alarmOutput, "output", "o", outputTable, "output format (table/json/yaml)")
}

func runAlarms(cmd *cobra.Command, args []string) error {
	switch alarmOutput {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("invalid output format: %s (must be 'table', 'json' or 'yaml')", alarmOutput)
	}

	// Priority: command line filter > config
	expression := alarmFilter
	if expression == "" {
		expression = cfg.Alarms.Filter
	}

	var compiled filter.CompiledFilter
	if expression != "" {
		var err error
		compiled, err = filter.NewExprCompiler().Compile(expression)
		if err != nil {
			return fmt.Errorf("invalid filter expression: %w", err)
		}
	}

	ctx := cmd.Context()
	if err := ensureLoggedIn(ctx); err != nil {
		return err
	}

	alarms, err := client.GetDeviceAlarms(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device alarms: %w", err)
	}

	if compiled != nil {
		logger.Info().Str("filter", compiled.Expression()).Int("alarms", len(alarms)).Msg("Filtering alarms")
		alarms, err = filter.NewEvaluator(logger).Apply(ctx, compiled, alarms)
		if err != nil {
			return err
		}
	}

	if alarmOutput != outputTable {
		return writeOutput(alarmOutput, alarms)
	}

	if len(alarms) == 0 {
		_, _ = os.Stdout.WriteString("No alarms found\n")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Time", "Mode", "Days", "Sound")

	for _, alarm := range alarms {
		_ = table.Append(alarmRow(alarm)...)
	}

	_ = table.Render()

	return nil
}

// alarmRow formats one alarm for the table
func alarmRow(alarm garmin.Object) []any {
	return []any{
		field(alarm, "alarmId"),
		alarmClock(alarm["alarmTime"]),
		field(alarm, "alarmMode"),
		alarmDays(alarm["alarmDays"]),
		field(alarm, "alarmSound"),
	}
}

func field(alarm garmin.Object, name string) string {
	v, ok := alarm[name]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

// alarmClock renders minutes after midnight as HH:MM
func alarmClock(v any) string {
	var minutes int64
	switch t := plain(v).(type) {
	case int64:
		minutes = t
	case float64:
		minutes = int64(t)
	default:
		return "-"
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func alarmDays(v any) string {
	days, ok := v.([]any)
	if !ok || len(days) == 0 {
		return "-"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, fmt.Sprint(d))
	}
	return strings.Join(names, ",")
}
