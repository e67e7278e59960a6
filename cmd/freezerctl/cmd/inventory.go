package cmd

import (
	"fmt"
	"slices"
	"strings"

	"freezercore/internal/core"
	"freezercore/pkg/catalog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newContainerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Inspect containers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show BARCODE",
		Short: "Print a container's location and what its slots hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			ctx := cmd.Context()

			c, err := svc.ContainerByBarcode(ctx, args[0])
			if err != nil {
				return err
			}
			ancestors, err := svc.ContainerAncestors(ctx, c.ID)
			if err != nil {
				return err
			}
			slots, err := svc.SlotMap(ctx, c.ID)
			if err != nil {
				return err
			}

			path := []string{c.Barcode}
			for _, p := range ancestors {
				path = append(path, p.Barcode)
			}
			slices.Reverse(path)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", strings.Join(path, " > "), c.Kind)
			if slots.Capacity == catalog.Unbounded {
				fmt.Fprintf(out, "%d held, unbounded\n", len(slots.Occupants))
			} else {
				fmt.Fprintf(out, "%d of %d slots used\n", len(slots.Occupants), slots.Capacity)
			}
			if len(slots.Occupants) == 0 {
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.AppendHeader(table.Row{"Slot", "Type", "ID", "Name"})
			for _, o := range slots.Occupants {
				t.AppendRow(table.Row{o.Coordinate, o.Entity, o.ID, o.Name})
			}
			t.Render()
			return nil
		},
	})
	return cmd
}

func newSampleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Inspect samples",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "lineage BARCODE COORDINATE",
		Short: "Print the volume, ancestors and descendants of the sample in a slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			ctx := cmd.Context()

			smp, err := svc.SampleAt(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			vol, err := svc.SampleVolume(ctx, smp.ID)
			if err != nil {
				return err
			}
			ancestors, err := svc.SampleAncestors(ctx, smp.ID)
			if err != nil {
				return err
			}
			descendants, err := svc.SampleDescendants(ctx, smp.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			state := ""
			if vol.Depleted {
				state = ", depleted"
			}
			fmt.Fprintf(out, "%s #%d volume %s%s\n", smp.Name, smp.ID, vol.Current.String(), state)
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.AppendHeader(table.Row{"Relation", "ID", "Name", "Container", "Slot"})
			for s := range ancestors {
				t.AppendRow(relationRow("ancestor", s))
			}
			for s := range descendants {
				t.AppendRow(relationRow("descendant", s))
			}
			if t.Length() > 0 {
				t.Render()
			}
			return nil
		},
	})
	return cmd
}

func relationRow(relation string, s core.Sample) table.Row {
	return table.Row{relation, s.ID, s.Name, s.ContainerID, s.Coordinates}
}
